package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type ParamGetter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ResolveSecrets fills credentials that are still empty from the parameter
// store under Secrets.ParamPrefix. Values already present are left alone.
func (c *Config) ResolveSecrets(ctx context.Context, params ParamGetter) error {
	prefix := strings.TrimRight(strings.TrimSpace(c.Secrets.ParamPrefix), "/")
	if prefix == "" || params == nil {
		return nil
	}

	targets := []struct {
		name string
		dst  *string
	}{
		{"whatsapp-token", &c.WhatsApp.Token},
		{"verify-token", &c.WhatsApp.VerifyToken},
		{"openai-api-key", &c.OpenAI.APIKey},
	}

	var errs []error
	for _, t := range targets {
		if *t.dst != "" {
			continue
		}
		v, err := params.GetParameter(ctx, prefix+"/"+t.name)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", t.name, err))
			continue
		}
		*t.dst = v
	}
	return errors.Join(errs...)
}
