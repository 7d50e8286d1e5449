// Package eventlog is a logging sink for domain events. The surrounding
// platform consumes these from logs; no broker sits in the webhook path.
package eventlog

import (
	log "github.com/sirupsen/logrus"
	"payments/pkg/domain/service"
)

type Dispatcher struct{}

func NewDispatcher() *Dispatcher { return &Dispatcher{} }

func (d *Dispatcher) Dispatch(event service.Event) error {
	log.WithFields(log.Fields{
		"event_type": event.Type(),
		"event":      event,
	}).Info("Domain event")
	return nil
}
