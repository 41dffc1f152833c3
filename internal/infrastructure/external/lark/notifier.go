package lark

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/garyjia/invoice-matcher/internal/application/port"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkIm "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

const (
	receiveIDTypeChat = "chat_id"
	msgTypePost       = "post"
)

// Config holds Lark bot configuration
type Config struct {
	AppID     string
	AppSecret string
	ChatID    string // group chat receiving operator alerts
}

// messageCreator is the part of the IM API the notifier uses
type messageCreator interface {
	Create(ctx context.Context, req *larkIm.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkIm.CreateMessageResp, error)
}

// Notifier implements port.Notifier by posting rich-text messages to a Lark group chat
type Notifier struct {
	messages messageCreator
	chatID   string
	logger   *zap.Logger
}

// NewNotifier creates a notifier backed by the Lark SDK client
func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return newNotifier(client.Im.Message, cfg.ChatID, logger)
}

func newNotifier(messages messageCreator, chatID string, logger *zap.Logger) *Notifier {
	return &Notifier{
		messages: messages,
		chatID:   chatID,
		logger:   logger,
	}
}

type postText struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type postBody struct {
	Title   string       `json:"title"`
	Content [][]postText `json:"content"`
}

// postContent renders a Lark "post" message
func postContent(title, body string) (string, error) {
	content := map[string]postBody{
		"en_us": {
			Title:   title,
			Content: [][]postText{{{Tag: "text", Text: body}}},
		},
	}
	b, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message content: %w", err)
	}
	return string(b), nil
}

// messageBody builds the request body for a post message to chatID
func messageBody(chatID, title, body string) (*larkIm.CreateMessageReqBody, error) {
	content, err := postContent(title, body)
	if err != nil {
		return nil, err
	}
	return larkIm.NewCreateMessageReqBodyBuilder().
		ReceiveId(chatID).
		MsgType(msgTypePost).
		Content(content).
		Build(), nil
}

// Notify posts one alert to the configured chat
func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	if n.chatID == "" {
		return fmt.Errorf("lark chat ID is not configured")
	}

	msg, err := messageBody(n.chatID, title, body)
	if err != nil {
		return err
	}

	req := larkIm.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDTypeChat).
		Body(msg).
		Build()

	resp, err := n.messages.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send message",
			zap.String("chat_id", n.chatID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		n.logger.Error("API returned failure",
			zap.String("chat_id", n.chatID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}
	n.logger.Info("Alert sent", zap.String("message_id", messageID), zap.String("title", title))
	return nil
}

// Verify interface compliance
var _ port.Notifier = (*Notifier)(nil)
