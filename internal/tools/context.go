package tools

import "context"

type contextKey string

const (
	conversationKeyKey contextKey = "conversation_key"
	toolCallIDKey      contextKey = "tool_call_id"
)

// WithConversationKey tags the context with the chat conversation key
// for tool logging.
func WithConversationKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, conversationKeyKey, key)
}

// ConversationKeyFromContext returns the conversation key, or "" when
// unset.
func ConversationKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(conversationKeyKey).(string)
	return key
}

// WithToolCallID tags the context with the assistant's tool call id.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey, id)
}

// ToolCallIDFromContext returns the tool call id, or "" when unset.
func ToolCallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(toolCallIDKey).(string)
	return id
}
