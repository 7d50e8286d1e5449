// Package effects runs the best-effort work that follows a committed
// fulfillment: confirmation email and invoice issuance. Jobs consume the
// fulfillment result, they never re-derive it, and nothing here can roll the
// core transaction back.
package effects

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"payments/pkg/domain/model"
	"payments/pkg/domain/service"
	"payments/pkg/invoice"
	"payments/pkg/infrastructure/email"
)

// Job carries one committed fulfillment outcome.
type Job struct {
	Order  *model.Order
	Result *service.FulfillmentResult
}

// Invoicer is the slice of the invoice client the worker needs.
type Invoicer interface {
	IsConfigured() bool
	CreateInvoice(ctx context.Context, order *model.Order) (*invoice.Invoice, error)
}

type Runner struct {
	inbox      chan Job
	closeCh    chan struct{}
	sender     email.Sender
	invoicer   Invoicer
	orders     model.OrderRepository
	jobTimeout time.Duration
}

func NewRunner(sender email.Sender, invoicer Invoicer, orders model.OrderRepository, buf int, jobTimeout time.Duration) *Runner {
	if jobTimeout == 0 {
		jobTimeout = 30 * time.Second
	}
	return &Runner{
		inbox:      make(chan Job, buf),
		closeCh:    make(chan struct{}),
		sender:     sender,
		invoicer:   invoicer,
		orders:     orders,
		jobTimeout: jobTimeout,
	}
}

func (r *Runner) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				// Drain what is already queued before exiting.
				for {
					select {
					case job := <-r.inbox:
						r.process(job)
					default:
						close(r.closeCh)
						return
					}
				}
			case job := <-r.inbox:
				r.process(job)
			}
		}
	}()
}

// EnqueueFulfillment hands a committed outcome to the worker. It never
// blocks the webhook response: with a full queue the job is dropped and the
// gap is left to out-of-band reconciliation.
func (r *Runner) EnqueueFulfillment(order *model.Order, result *service.FulfillmentResult) {
	select {
	case r.inbox <- Job{Order: order, Result: result}:
	default:
		log.WithField("order_id", order.ID).Error("Side-effect queue full, dropping job")
	}
}

// WaitClosed blocks until the worker goroutine has drained and exited.
func (r *Runner) WaitClosed() { <-r.closeCh }

// process bounds both side effects with one deadline; a hung SMTP or invoice
// server surfaces as a context error instead of stalling the worker.
func (r *Runner) process(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.jobTimeout)
	defer cancel()

	r.sendEmail(ctx, job)
	r.issueInvoice(ctx, job.Order)
}

func (r *Runner) sendEmail(ctx context.Context, job Job) {
	logger := log.WithFields(log.Fields{
		"order_id": job.Order.ID,
		"email":    job.Result.User.Email,
	})

	var err error
	if job.Result.IsNewUser {
		err = r.sender.SendWelcomeWithPackage(ctx, job.Result.User, job.Order, job.Result.ResetToken)
	} else {
		err = r.sender.SendPurchaseConfirmation(ctx, job.Result.User, job.Order)
	}
	if err != nil {
		logger.WithError(err).Error("Failed to send fulfillment email")
		return
	}
	logger.Info("Fulfillment email sent")
}

// issueInvoice persists the invoice reference in its own commit, touching
// invoice columns only; the fulfillment transaction is long gone by now.
func (r *Runner) issueInvoice(ctx context.Context, order *model.Order) {
	logger := log.WithField("order_number", order.OrderNumber)

	if !r.invoicer.IsConfigured() {
		logger.Debug("Invoicing not configured, skipping")
		return
	}

	inv, err := r.invoicer.CreateInvoice(ctx, order)
	if err != nil {
		logger.WithError(err).Error("Invoice creation failed")
		return
	}

	details := model.InvoiceDetails{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.Number,
		InvoiceToken:  inv.Token,
		IssuedAt:      time.Now().UTC(),
	}
	if err := r.orders.UpdateInvoice(order.ID, details); err != nil {
		logger.WithError(err).Error("Failed to persist invoice reference")
		return
	}
	logger.WithField("invoice_number", inv.Number).Info("Invoice created")
}
