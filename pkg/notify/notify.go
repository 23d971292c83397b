package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/finroute/finroute/pkg/config"
	"github.com/finroute/finroute/pkg/httpx"
	"github.com/finroute/finroute/pkg/logger"
	"github.com/finroute/finroute/pkg/metrics"
	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.telegram.org"

// Telegram sends operational alerts to a chat. Delivery is fire-and-forget:
// every send runs on its own goroutine, errors are logged and swallowed, and
// the caller is never blocked.
type Telegram struct {
	cfg     config.NotifyConfig
	apiBase string
	client  *httpx.Client
}

func NewTelegram(cfg config.NotifyConfig) *Telegram {
	return &Telegram{
		cfg:     cfg,
		apiBase: defaultAPIBase,
		client:  httpx.New(5 * time.Second),
	}
}

func (t *Telegram) enabled() bool {
	return t.cfg.Enabled && t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

// ProviderStateChanged announces a circuit-breaker transition.
func (t *Telegram) ProviderStateChanged(provider, state string) {
	t.send(fmt.Sprintf("⚠️ provider %s is now %s", provider, state))
}

// SessionFailed announces the terminal session state, which needs operator
// action (credentials).
func (t *Telegram) SessionFailed(provider string) {
	t.send(fmt.Sprintf("🚨 %s session failed permanently: credentials rejected", provider))
}

func (t *Telegram) send(text string) {
	if !t.enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.post(ctx, text); err != nil {
			metrics.NotifyErrors.Inc()
			logger.Log.Warn("notification dropped", zap.Error(err))
			return
		}
		metrics.NotifySent.Inc()
	}()
}

func (t *Telegram) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.cfg.BotToken)
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram http %d", res.StatusCode)
	}
	return nil
}
