package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"payments/pkg/domain/model"
	"payments/pkg/domain/service"
	"payments/pkg/effects"
	"payments/pkg/infrastructure/auth"
	"payments/pkg/infrastructure/config"
	"payments/pkg/infrastructure/email"
	"payments/pkg/infrastructure/eventlog"
	"payments/pkg/infrastructure/mysql"
	"payments/pkg/invoice"
	"payments/pkg/payment"
	"payments/pkg/transport"
	"payments/pkg/webhook"
)

func main() {
	_ = godotenv.Load()
	log.SetFormatter(&log.JSONFormatter{})

	app := &cli.App{
		Name:  "payments",
		Usage: "payment webhook processing and order fulfillment",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the webhook HTTP server",
				Action: func(c *cli.Context) error {
					return serve()
				},
			},
			{
				Name:  "migrate",
				Usage: "apply pending database migrations",
				Action: func(c *cli.Context) error {
					return migrateUp()
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("Application failed")
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := mysql.Connect(cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	repos := mysql.NewRepositories(db)
	txManager := mysql.NewTransactionManager(db)
	dispatcher := eventlog.NewDispatcher()

	fulfillment := service.NewFulfillmentService(txManager, cfg.ResetTokenTTL(), dispatcher)
	passwords := service.NewPasswordService(repos.Users(), auth.NewBcryptPasswordManager(), dispatcher)

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	sender := email.NewSender(email.Config{
		Host:        cfg.SMTP.Host,
		Port:        cfg.SMTP.Port,
		Username:    cfg.SMTP.Username,
		Password:    cfg.SMTP.Password,
		From:        cfg.SMTP.From,
		FrontendURL: cfg.FrontendURL,
	})
	invoicer := invoice.NewClient(invoice.Config{
		APIToken:          cfg.Fakturownia.APIToken,
		Subdomain:         cfg.Fakturownia.Subdomain,
		SellerName:        cfg.Fakturownia.SellerName,
		SellerTaxNo:       cfg.Fakturownia.SellerTaxNo,
		SellerStreet:      cfg.Fakturownia.SellerStreet,
		SellerPostCode:    cfg.Fakturownia.SellerPostCode,
		SellerCity:        cfg.Fakturownia.SellerCity,
		SellerCountry:     cfg.Fakturownia.SellerCountry,
		SellerBank:        cfg.Fakturownia.SellerBank,
		SellerBankAccount: cfg.Fakturownia.SellerBankAccount,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := effects.NewRunner(sender, invoicer, repos.Orders(), cfg.EffectsQueueSize, cfg.EffectsJobTimeout())
	runner.Start(ctx)

	processor := webhook.NewProcessor(providers, repos.Orders(), fulfillment, runner)
	router := transport.Router(processor, passwords)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	waitForKillSignal()
	log.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	runner.WaitClosed()
	return nil
}

func migrateUp() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := mysql.Connect(cfg.MySQLDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := mysql.RunMigrations(db, cfg.MigrationsDir); err != nil {
		return err
	}
	log.Info("Migrations applied")
	return nil
}

func buildProviders(cfg *config.Config) (map[model.PaymentProvider]payment.Provider, error) {
	providerCfg := payment.Config{
		Stripe: payment.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			APIURL:        cfg.Stripe.APIURL,
		},
		PayU: payment.PayUConfig{
			APIURL:       cfg.PayU.APIURL,
			PosID:        cfg.PayU.PosID,
			ClientID:     cfg.PayU.ClientID,
			ClientSecret: cfg.PayU.ClientSecret,
			SecondKey:    cfg.PayU.SecondKey,
			NotifyURL:    cfg.PayU.NotifyURL,
		},
	}

	providers := make(map[model.PaymentProvider]payment.Provider)
	for _, key := range []model.PaymentProvider{model.ProviderStripe, model.ProviderPayU} {
		provider, err := payment.ForProvider(key, providerCfg)
		if err != nil {
			return nil, err
		}
		providers[key] = provider
	}
	return providers, nil
}

func waitForKillSignal() {
	killSignalChan := make(chan os.Signal, 1)
	signal.Notify(killSignalChan, os.Interrupt, syscall.SIGTERM)
	killSignal := <-killSignalChan
	switch killSignal {
	case os.Interrupt:
		log.Info("Got SIGINT...")
	case syscall.SIGTERM:
		log.Info("Got SIGTERM...")
	}
}
