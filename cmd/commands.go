package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/config"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/whatsapp"
)

const probeTimeout = 15 * time.Second

func newCheckConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Report credentials, placeholders and limit settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup(cmd.Context(), configPath(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			issues := writeConfigReport(out, cfg)

			probe, _ := cmd.Flags().GetBool("probe")
			if probe {
				ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
				defer cancel()
				if err := probePhoneNumber(ctx, out, newOutbound(cfg)); err != nil {
					return err
				}
			}
			if issues > 0 {
				return fmt.Errorf("%d configuration issue(s) found", issues)
			}
			return nil
		},
	}
	cmd.Flags().Bool("probe", false, "Fetch the phone number object from the Graph API")
	return cmd
}

func newSendTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a test message through the WhatsApp API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, _ := cmd.Flags().GetString("to")
			text, _ := cmd.Flags().GetString("text")
			if strings.TrimSpace(to) == "" {
				return errors.New("--to is required")
			}
			if text == "" {
				text = defaultTestMessage(time.Now(), to)
			}

			cfg, logger, err := setup(cmd.Context(), configPath(cmd))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
			defer cancel()
			if err := newOutbound(cfg).SendText(ctx, to, text); err != nil {
				return fmt.Errorf("send test message: %w", err)
			}
			logger.Info("test message sent", "to", to)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "message sent to %s\n", to)
			return nil
		},
	}
	cmd.Flags().String("to", "", "Recipient phone number, country code first")
	cmd.Flags().String("text", "", "Message body (defaults to a timestamped test message)")
	return cmd
}

func defaultTestMessage(now time.Time, to string) string {
	return fmt.Sprintf("WhatsApp bot test message\n\nSent at: %s\nTo: %s\n\nIf you receive this, message sending works.",
		now.Format("2006-01-02 15:04:05"), to)
}

// writeConfigReport prints the effective configuration with secrets masked
// and returns the number of issues found.
func writeConfigReport(w io.Writer, cfg *config.Config) int {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

	p("credentials:\n")
	p("  WHATSAPP_TOKEN            %s\n", mask(cfg.WhatsApp.Token))
	p("  WHATSAPP_PHONE_NUMBER_ID  %s\n", orUnset(cfg.WhatsApp.PhoneNumberID))
	p("  VERIFY_TOKEN              %s\n", mask(cfg.WhatsApp.VerifyToken))
	p("  OPENAI_API_KEY            %s\n", mask(cfg.OpenAI.APIKey))
	p("  OPENAI_ASSISTANT_ID       %s\n", orUnset(cfg.OpenAI.AssistantID))
	p("endpoints:\n")
	p("  whatsapp  %s/%s/%s/messages\n", strings.TrimRight(cfg.WhatsApp.APIBase, "/"), cfg.WhatsApp.APIVersion, cfg.WhatsApp.PhoneNumberID)
	p("  openai    %s\n", orDefault(cfg.OpenAI.BaseURL, "default"))
	p("runtime:\n")
	p("  port %s, workers %d, queue %d, run timeout %s, chat directory %s\n",
		cfg.Port, cfg.Workers.Count, cfg.Workers.QueueSize, cfg.OpenAI.RunTimeout, cfg.Transcript.Directory)
	p("limits (not enforced):\n")
	p("  MAX_CHAT_HISTORY=%d THREAD_TIMEOUT=%d MAX_ACTIVE_THREADS=%d\n",
		cfg.Limits.MaxChatHistory, cfg.Limits.ThreadTimeout, cfg.Limits.MaxActiveThreads)
	p("  RATE_LIMIT_ENABLED=%t RATE_LIMIT_MESSAGES=%d RATE_LIMIT_WINDOW=%d\n",
		cfg.Limits.RateLimitEnabled, cfg.Limits.RateLimitMessages, cfg.Limits.RateLimitWindowSec)

	issues := cfg.Issues()
	if len(issues) == 0 {
		p("no issues\n")
		return 0
	}
	p("issues:\n")
	for _, is := range issues {
		p("  %s: %s\n", is.Key, is.Reason)
	}
	return len(issues)
}

func probePhoneNumber(ctx context.Context, w io.Writer, o *whatsapp.Outbound) error {
	info, err := o.PhoneNumberInfo(ctx)
	if err != nil {
		return fmt.Errorf("graph api probe: %w", err)
	}
	b, err := json.MarshalIndent(info, "  ", "  ")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "phone number:\n  %s\n", b)
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return strings.Repeat("*", len(s))
	default:
		return s[:4] + strings.Repeat("*", 4) + s[len(s)-4:]
	}
}

func orUnset(s string) string { return orDefault(s, "(not set)") }

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
