package auth

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/util"
)

// CodeDeliverer sends a one-time code out of band.
type CodeDeliverer interface {
	Deliver(ctx context.Context, code, destination string) error
}

// LogDeliverer stands in for an SMS or email gateway by logging the masked code.
type LogDeliverer struct{}

func (LogDeliverer) Deliver(ctx context.Context, code, destination string) error {
	log.Info().
		Str("destination", util.MaskEmail(destination)).
		Str("code", util.MaskCode(code)).
		Msg("verification code delivered")
	return nil
}
