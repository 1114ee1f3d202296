//go:build !integration

package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-billing/internal/config"
	"hotspot-billing/internal/domain/ports/adapter"
)

func TestAfricasTalkingSMS_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("posts a form and accepts a sent recipient", func(t *testing.T) {
		// --- Arrange ---
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/version1/messaging", r.URL.Path)
			assert.Equal(t, "secret", r.Header.Get("apiKey"))
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "sandbox", r.PostForm.Get("username"))
			assert.Equal(t, "+254712345678", r.PostForm.Get("to"))
			assert.Equal(t, "hello", r.PostForm.Get("message"))
			assert.Equal(t, "WIFI", r.PostForm.Get("from"))
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 1/1","Recipients":[{"statusCode":101,"number":"+254712345678","status":"Success","messageId":"ATPid_1"}]}}`))
		}))
		defer srv.Close()
		sms, err := NewAfricasTalkingSMS(config.SMSConfig{Username: "sandbox", APIKey: "secret", SenderID: "WIFI", BaseURL: srv.URL})
		require.NoError(t, err)

		// --- Act ---
		err = sms.Send(ctx, "0712345678", "hello")

		// --- Assert ---
		assert.NoError(t, err)
	})

	t.Run("rejected recipient is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"SMSMessageData":{"Message":"Sent to 0/1","Recipients":[{"statusCode":403,"number":"+254712345678","status":"InvalidPhoneNumber"}]}}`))
		}))
		defer srv.Close()
		sms, _ := NewAfricasTalkingSMS(config.SMSConfig{Username: "u", APIKey: "k", BaseURL: srv.URL})

		err := sms.Send(ctx, "0712345678", "hello")

		assert.ErrorContains(t, err, "InvalidPhoneNumber")
	})

	t.Run("http failure is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()
		sms, _ := NewAfricasTalkingSMS(config.SMSConfig{Username: "u", APIKey: "bad", BaseURL: srv.URL})

		assert.Error(t, sms.Send(ctx, "0712345678", "hello"))
	})

	t.Run("invalid recipient never hits the API", func(t *testing.T) {
		sms, _ := NewAfricasTalkingSMS(config.SMSConfig{Username: "u", APIKey: "k", BaseURL: "http://127.0.0.1:1"})
		assert.Error(t, sms.Send(ctx, "12", "hello"))
	})
}

type fakeBot struct {
	sent []int64
	fail map[int64]bool
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if b.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	b.sent = append(b.sent, msg.ChatID)
	return tgbotapi.Message{}, nil
}

func TestTelegramOps_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("empty recipient broadcasts to admins", func(t *testing.T) {
		bot := &fakeBot{}
		ops := &TelegramOps{bot: bot, adminIDs: []int64{1, 2}}

		require.NoError(t, ops.Send(ctx, "", "payment completed"))
		assert.Equal(t, []int64{1, 2}, bot.sent)
	})

	t.Run("one failing chat does not stop the others", func(t *testing.T) {
		bot := &fakeBot{fail: map[int64]bool{1: true}}
		ops := &TelegramOps{bot: bot, adminIDs: []int64{1, 2}}

		err := ops.Send(ctx, "", "x")

		assert.ErrorContains(t, err, "chat 1")
		assert.Equal(t, []int64{2}, bot.sent)
	})

	t.Run("explicit chat id", func(t *testing.T) {
		bot := &fakeBot{}
		ops := &TelegramOps{bot: bot, adminIDs: []int64{1}}

		require.NoError(t, ops.Send(ctx, "42", "x"))
		assert.Equal(t, []int64{42}, bot.sent)
	})
}

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, string, string) error { return errors.New("down") }

func TestMulti_Send(t *testing.T) {
	logger := zerolog.Nop()
	bot := &fakeBot{}
	m := Multi{failingNotifier{}, &TelegramOps{bot: bot, adminIDs: []int64{7}}, NewNoop("ops", &logger)}
	var _ adapter.Notifier = m

	err := m.Send(context.Background(), "", "x")

	assert.ErrorContains(t, err, "down")
	assert.Equal(t, []int64{7}, bot.sent)
}
