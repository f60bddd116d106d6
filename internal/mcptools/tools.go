// Package mcptools exposes the telephony operations as MCP tools so an
// external invocation framework can drive calls and messages.
package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bizmatters/telephony-correlator/internal/telephony"
)

const (
	serverName    = "telephony"
	serverVersion = "1.0.0"
)

// VoiceCallInput is the input for the voice_call tool.
type VoiceCallInput struct {
	To      string `json:"to" jsonschema:"destination phone number"`
	From    string `json:"from,omitempty" jsonschema:"source phone number (defaults to the configured LVN)"`
	Message string `json:"message" jsonschema:"message to speak during the call"`
}

// VoiceCallResult is the output of the voice_call tool.
type VoiceCallResult struct {
	CallUUID         string   `json:"call_uuid" jsonschema:"provider-assigned call identifier"`
	ConversationUUID string   `json:"conversation_uuid,omitempty" jsonschema:"provider-assigned conversation identifier"`
	Status           string   `json:"status" jsonschema:"current tracker status"`
	StatusHistory    []string `json:"status_history" jsonschema:"human-readable progress messages so far"`
	Summary          string   `json:"summary" jsonschema:"one-line outcome description"`
}

// VoiceCallTool defines the MCP tool schema for initiating a voice call.
func VoiceCallTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "voice_call",
		Description: "Make a voice call to a given number and speak a message. Call progress is tracked and can be queried with call_status.",
	}
}

// VoiceCallHandler executes a voice call request.
func VoiceCallHandler(svc *telephony.Service) mcp.ToolHandlerFor[VoiceCallInput, VoiceCallResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VoiceCallInput) (*mcp.CallToolResult, VoiceCallResult, error) {
		summary, err := svc.InitiateCall(ctx, input.To, input.From, input.Message)
		if err != nil {
			return nil, VoiceCallResult{}, fmt.Errorf("voice call failed: %w", err)
		}
		return nil, VoiceCallResult{
			CallUUID:         summary.CallUUID,
			ConversationUUID: summary.ConversationUUID,
			Status:           string(summary.Status),
			StatusHistory:    summary.StatusHistory,
			Summary:          fmt.Sprintf("Voice call initiated to %s.", input.To),
		}, nil
	}
}

// VoiceCallWithInputInput is the input for the voice_call_with_input tool.
type VoiceCallWithInputInput struct {
	To          string `json:"to" jsonschema:"destination phone number"`
	From        string `json:"from,omitempty" jsonschema:"source phone number (defaults to the configured LVN)"`
	Prompt      string `json:"prompt" jsonschema:"question to speak; the callee's spoken answer is captured"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"how long to wait for speech input (default 60)"`
}

// VoiceCallWithInputResult is the output of the voice_call_with_input tool.
type VoiceCallWithInputResult struct {
	CallUUID   string  `json:"call_uuid" jsonschema:"provider-assigned call identifier"`
	TimedOut   bool    `json:"timed_out" jsonschema:"true when no input arrived within the wait budget"`
	Text       string  `json:"text,omitempty" jsonschema:"recognized speech text"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"recognition confidence (0..1)"`
	Summary    string  `json:"summary" jsonschema:"one-line outcome description"`
}

// VoiceCallWithInputTool defines the MCP tool schema for call-and-listen.
func VoiceCallWithInputTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "voice_call_with_input",
		Description: "Make a voice call that asks a question and waits for the callee's spoken answer, returning the recognized text.",
	}
}

// VoiceCallWithInputHandler executes a call-and-listen request.
func VoiceCallWithInputHandler(svc *telephony.Service) mcp.ToolHandlerFor[VoiceCallWithInputInput, VoiceCallWithInputResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input VoiceCallWithInputInput) (*mcp.CallToolResult, VoiceCallWithInputResult, error) {
		outcome, err := svc.InitiateCallWithInput(ctx, input.To, input.From, input.Prompt, time.Duration(input.WaitSeconds)*time.Second)
		if err != nil {
			return nil, VoiceCallWithInputResult{}, fmt.Errorf("voice call failed: %w", err)
		}
		return nil, VoiceCallWithInputResult{
			CallUUID:   outcome.CallUUID,
			TimedOut:   outcome.TimedOut,
			Text:       outcome.Text,
			Confidence: outcome.Confidence,
			Summary:    outcome.Summary,
		}, nil
	}
}

// SendSMSInput is the input for the send_sms tool.
type SendSMSInput struct {
	To   string `json:"to" jsonschema:"destination phone number"`
	From string `json:"from,omitempty" jsonschema:"sender phone number (defaults to the configured LVN)"`
	Text string `json:"text" jsonschema:"message to send"`
}

// SendSMSResult is the output of the send_sms tool.
type SendSMSResult struct {
	Summary string `json:"summary" jsonschema:"one-line outcome description"`
}

// SendSMSTool defines the MCP tool schema for sending an SMS.
func SendSMSTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "send_sms",
		Description: "Send an SMS or text message to a given number.",
	}
}

// SendSMSHandler executes an SMS send request.
func SendSMSHandler(svc *telephony.Service) mcp.ToolHandlerFor[SendSMSInput, SendSMSResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendSMSInput) (*mcp.CallToolResult, SendSMSResult, error) {
		summary, err := svc.SendMessage(ctx, input.To, input.From, input.Text)
		if err != nil {
			return nil, SendSMSResult{}, fmt.Errorf("send SMS failed: %w", err)
		}
		return nil, SendSMSResult{Summary: summary}, nil
	}
}

// SendSMSWithInputInput is the input for the send_sms_with_input tool.
type SendSMSWithInputInput struct {
	To          string `json:"to" jsonschema:"destination phone number"`
	From        string `json:"from,omitempty" jsonschema:"sender phone number (defaults to the configured LVN)"`
	Text        string `json:"text" jsonschema:"message to send"`
	WaitSeconds int    `json:"wait_seconds,omitempty" jsonschema:"how long to wait for a reply (default 60)"`
}

// SendSMSWithInputResult is the output of the send_sms_with_input tool.
type SendSMSWithInputResult struct {
	TimedOut bool   `json:"timed_out" jsonschema:"true when no reply arrived within the wait budget"`
	Reply    string `json:"reply,omitempty" jsonschema:"reply text from the destination"`
	Summary  string `json:"summary" jsonschema:"one-line outcome description"`
}

// SendSMSWithInputTool defines the MCP tool schema for send-and-wait-for-reply.
func SendSMSWithInputTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "send_sms_with_input",
		Description: "Send an SMS and wait for a reply from the destination number, returning the reply text.",
	}
}

// SendSMSWithInputHandler executes a send-and-wait request.
func SendSMSWithInputHandler(svc *telephony.Service) mcp.ToolHandlerFor[SendSMSWithInputInput, SendSMSWithInputResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input SendSMSWithInputInput) (*mcp.CallToolResult, SendSMSWithInputResult, error) {
		outcome, err := svc.SendMessageWithInput(ctx, input.To, input.From, input.Text, time.Duration(input.WaitSeconds)*time.Second)
		if err != nil {
			return nil, SendSMSWithInputResult{}, fmt.Errorf("send SMS failed: %w", err)
		}
		return nil, SendSMSWithInputResult{
			TimedOut: outcome.TimedOut,
			Reply:    outcome.Reply,
			Summary:  outcome.Summary,
		}, nil
	}
}

// CallStatusInput is the input for the call_status tool.
type CallStatusInput struct {
	CallUUID string `json:"call_uuid,omitempty" jsonschema:"call identifier; omit to list every tracked call"`
}

// CallStatusResult is the output of the call_status tool.
type CallStatusResult struct {
	Calls []telephony.CallSummary `json:"calls" jsonschema:"tracker summaries"`
}

// CallStatusTool defines the MCP tool schema for checking call status.
func CallStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "call_status",
		Description: "Check the status of one tracked call, or of every tracked call when no id is given.",
	}
}

// CallStatusHandler executes a status query.
func CallStatusHandler(svc *telephony.Service) mcp.ToolHandlerFor[CallStatusInput, CallStatusResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CallStatusInput) (*mcp.CallToolResult, CallStatusResult, error) {
		if input.CallUUID != "" {
			summary, err := svc.CheckStatus(ctx, input.CallUUID)
			if err != nil {
				return nil, CallStatusResult{}, fmt.Errorf("no tracker found for call %s", input.CallUUID)
			}
			return nil, CallStatusResult{Calls: []telephony.CallSummary{*summary}}, nil
		}
		return nil, CallStatusResult{Calls: svc.ListStatuses(ctx)}, nil
	}
}

// NewServer creates an MCP server with every telephony tool registered.
func NewServer(svc *telephony.Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	mcp.AddTool(server, VoiceCallTool(), VoiceCallHandler(svc))
	mcp.AddTool(server, VoiceCallWithInputTool(), VoiceCallWithInputHandler(svc))
	mcp.AddTool(server, SendSMSTool(), SendSMSHandler(svc))
	mcp.AddTool(server, SendSMSWithInputTool(), SendSMSWithInputHandler(svc))
	mcp.AddTool(server, CallStatusTool(), CallStatusHandler(svc))
	return server
}
