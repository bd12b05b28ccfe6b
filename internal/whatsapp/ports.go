package whatsapp

import "context"

// Dispatcher accepts one inbound utterance for background processing.
// It must not wait for the reply.
type Dispatcher interface {
	Handle(ctx context.Context, identity, text string) error
}

// Webhook payload, reduced to what the relay reads. Every level is optional.
type webhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []inboundMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type inboundMessage struct {
	ID   string `json:"id"`
	From string `json:"from"`
	Type string `json:"type"`
	Text *struct {
		Body string `json:"body"`
	} `json:"text"`
}

func (m inboundMessage) body() string {
	if m.Text == nil {
		return ""
	}
	return m.Text.Body
}

func (p *webhookPayload) messages() []inboundMessage {
	var out []inboundMessage
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			out = append(out, c.Value.Messages...)
		}
	}
	return out
}
