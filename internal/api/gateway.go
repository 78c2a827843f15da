package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/BTreeMap/ReadPipe/internal/evolution"
	"github.com/BTreeMap/ReadPipe/internal/messaging"
	"github.com/BTreeMap/ReadPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ReadPipe/internal/whatsapp"
)

// Gateway providers.
const (
	GatewayEvolution = "evolution"
	GatewayTwilio    = "twilio"
	GatewayWhatsmeow = "whatsmeow"
)

// ErrUnknownGateway is returned for an unsupported provider name.
var ErrUnknownGateway = errors.New("unknown gateway provider")

// GatewayOptions carries the options of every provider; only the selected one is used.
type GatewayOptions struct {
	Evolution []evolution.Option
	Twilio    []twiliowhatsapp.Option
	WhatsApp  []whatsapp.Option
	Send      []messaging.GatewayOption
}

func newGateway(ctx context.Context, provider string, opts GatewayOptions) (messaging.Service, error) {
	switch provider {
	case GatewayEvolution, "":
		client, err := evolution.NewClient(opts.Evolution...)
		if err != nil {
			return nil, err
		}
		return messaging.NewGatewayService(GatewayEvolution, client, opts.Send...), nil
	case GatewayTwilio:
		client, err := twiliowhatsapp.NewClient(opts.Twilio...)
		if err != nil {
			return nil, err
		}
		return messaging.NewGatewayService(GatewayTwilio, client, opts.Send...), nil
	case GatewayWhatsmeow:
		client, err := whatsapp.NewClient(ctx, opts.WhatsApp...)
		if err != nil {
			return nil, err
		}
		send := append([]messaging.GatewayOption{messaging.WithOnStop(client.Close)}, opts.Send...)
		return messaging.NewGatewayService(GatewayWhatsmeow, client, send...), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGateway, provider)
	}
}
