package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/propakistanidev/WA-RAG-BOT/internal/domain"
)

// maxWhatsAppText is the Cloud API limit for a text message body.
const maxWhatsAppText = 4096

var _ domain.Deliverer = (*Sender)(nil)

// Sender delivers text replies through the WhatsApp Cloud API messages endpoint.
type Sender struct {
	apiBase       string
	phoneNumberID string
	accessToken   string
	client        *http.Client
	limiter       *rate.Limiter
	logger        *slog.Logger
}

type SenderConfig struct {
	APIBase       string // default: https://graph.facebook.com/v21.0
	PhoneNumberID string
	AccessToken   string
	RatePerSecond float64 // outbound messages per second (default: 20)
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

func NewSender(cfg SenderConfig) *Sender {
	if cfg.APIBase == "" {
		cfg.APIBase = whatsappAPIBase
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 20
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sender{
		apiBase:       strings.TrimSuffix(cfg.APIBase, "/"),
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		client:        cfg.HTTPClient,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:        cfg.Logger,
	}
}

// Deliver sends text to the recipient, split into several messages when it
// exceeds the platform limit. Failures wrap domain.ErrDelivery.
func (s *Sender) Deliver(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("%w: empty recipient", domain.ErrDelivery)
	}
	for i, part := range splitMessage(text, maxWhatsAppText) {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: rate limit wait: %v", domain.ErrDelivery, err)
		}
		if err := s.send(ctx, to, part); err != nil {
			return fmt.Errorf("%w: part %d: %v", domain.ErrDelivery, i+1, err)
		}
	}
	s.logger.Debug("whatsapp reply delivered", "to", to, "len", len(text))
	return nil
}

type waSendRequest struct {
	MessagingProduct string     `json:"messaging_product"`
	RecipientType    string     `json:"recipient_type"`
	To               string     `json:"to"`
	Type             string     `json:"type"`
	Text             waSendText `json:"text"`
}

type waSendText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

func (s *Sender) send(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/%s/messages", s.apiBase, s.phoneNumberID)

	body, err := json.Marshal(waSendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             waSendText{Body: text},
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// splitMessage cuts msg into pieces of at most maxLen bytes, preferring a
// newline or space in the second half of each piece and never cutting a rune.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if idx := strings.LastIndex(msg[:cut], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else if idx := strings.LastIndex(msg[:cut], " "); idx > maxLen/2 {
			cut = idx + 1
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
