package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tripplanner/agentcore/internal/llm/providers"
	"github.com/tripplanner/agentcore/internal/orchestration"
)

const defaultMaxToolRounds = 5

// EventType enumerates the SSE event kinds named in §6.
type EventType string

const (
	EventStart      EventType = "start"
	EventDelta      EventType = "delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventEnd        EventType = "end"
	EventError      EventType = "error"
)

// Event is one SSE frame. The transport layer (a Fiber handler) owns
// framing it as `data: %s\n\n`; this package only produces the payload.
type Event struct {
	Type       EventType   `json:"type"`
	Timestamp  int64       `json:"timestamp"`
	SessionID  string      `json:"session_id,omitempty"`
	MessageID  string      `json:"message_id,omitempty"`
	Content    string      `json:"content,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	Arguments  string      `json:"arguments,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func newEvent(t EventType, sessionID, messageID string) Event {
	return Event{Type: t, Timestamp: time.Now().UnixMilli(), SessionID: sessionID, MessageID: messageID}
}

// TurnRequest is one chat turn's input.
type TurnRequest struct {
	SessionID   string
	MessageID   string
	UserMessage string
	History     []providers.Message
	Trip        *orchestration.FinalItinerary
}

// ChatAgent is the tool-calling conversational core: it streams LLM
// deltas, accumulates tool-call fragments by index, executes committed
// calls through a ToolExecutor, and loops until the stream ends with no
// tool calls or maxToolRounds is hit, per §4.5.
type ChatAgent struct {
	deps          *Deps
	executor      *ToolExecutor
	maxToolRounds int
}

// NewChatAgent wires a ChatAgent; maxToolRounds<=0 defaults to 5.
func NewChatAgent(deps *Deps, executor *ToolExecutor, maxToolRounds int) *ChatAgent {
	if maxToolRounds <= 0 {
		maxToolRounds = defaultMaxToolRounds
	}
	return &ChatAgent{deps: deps, executor: executor, maxToolRounds: maxToolRounds}
}

// Run streams one turn's events on the returned channel, which is closed
// after an `end` or `error` event, matching the "terminate after end or
// error" transport contract in §6. The caller (an SSE handler) ranges
// over the channel and frames each Event as a `data: ...` line.
func (a *ChatAgent) Run(ctx context.Context, req TurnRequest) <-chan Event {
	out := make(chan Event, 8)
	go a.run(ctx, req, out)
	return out
}

func (a *ChatAgent) run(ctx context.Context, req TurnRequest, out chan<- Event) {
	defer close(out)

	out <- newEvent(EventStart, req.SessionID, req.MessageID)

	messages := make([]providers.Message, 0, len(req.History)+2)
	messages = append(messages, providers.Message{Role: "system", Content: a.systemPrompt(req.Trip)})
	messages = append(messages, req.History...)
	messages = append(messages, providers.Message{Role: "user", Content: req.UserMessage})

	var fullContent strings.Builder

	for round := 0; round < a.maxToolRounds; round++ {
		content, calls, err := a.streamOneRound(ctx, req, messages, out)
		if err != nil {
			out <- errorEvent(req.SessionID, req.MessageID, err)
			return
		}
		fullContent.WriteString(content)

		if len(calls) == 0 {
			out <- endEvent(req.SessionID, req.MessageID, fullContent.String())
			return
		}

		assistantCalls := make([]providers.ToolCall, len(calls))
		for i, c := range calls {
			assistantCalls[i] = providers.ToolCall{ID: c.id, Type: "function", Function: providers.Function{Name: c.name, Arguments: c.arguments}}
		}
		messages = append(messages, providers.Message{Role: "assistant", Content: content, ToolCalls: assistantCalls})

		for _, c := range calls {
			out <- Event{Type: EventToolCall, Timestamp: time.Now().UnixMilli(), SessionID: req.SessionID, MessageID: req.MessageID, ToolCallID: c.id, ToolName: c.name, Arguments: c.arguments}

			result := a.executor.Dispatch(ctx, c.name, c.arguments)
			resultJSON, _ := json.Marshal(result)

			out <- Event{Type: EventToolResult, Timestamp: time.Now().UnixMilli(), SessionID: req.SessionID, MessageID: req.MessageID, ToolCallID: c.id, ToolName: c.name, Result: result}

			messages = append(messages, providers.Message{Role: "tool", Content: string(resultJSON), ToolCallID: c.id, Name: c.name})
		}
	}

	out <- endEvent(req.SessionID, req.MessageID, fullContent.String())
}

// pendingCall is one committed tool call assembled from streamed
// fragments keyed by index, per §9.
type pendingCall struct {
	id        string
	name      string
	arguments string
}

// streamOneRound drives a single LLM streaming call to completion,
// emitting a delta event per content chunk and returning the
// accumulated content plus any committed tool calls.
func (a *ChatAgent) streamOneRound(ctx context.Context, req TurnRequest, messages []providers.Message, out chan<- Event) (string, []pendingCall, error) {
	if a.deps.LLM == nil {
		return "", nil, fmt.Errorf("chat: no LLM provider configured")
	}

	genReq := &providers.GenerateRequest{
		Messages:    messages,
		Tools:       a.executor.ProviderToolList(),
		Temperature: 0.7,
	}

	chunks, err := a.deps.LLM.StreamResponse(ctx, genReq)
	if err != nil {
		return "", nil, fmt.Errorf("chat: stream request failed: %w", err)
	}

	var content strings.Builder
	byIndex := make(map[int]*pendingCall)

	for chunk := range chunks {
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				out <- Event{Type: EventDelta, Timestamp: time.Now().UnixMilli(), SessionID: req.SessionID, MessageID: req.MessageID, Content: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				pc, ok := byIndex[tc.Index]
				if !ok {
					pc = &pendingCall{}
					byIndex[tc.Index] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name += tc.Function.Name
				}
				pc.arguments += tc.Function.Arguments
			}
		}
	}

	if len(byIndex) == 0 {
		return content.String(), nil, nil
	}

	indices := make([]int, 0, len(byIndex))
	for i := range byIndex {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	calls := make([]pendingCall, 0, len(indices))
	for _, i := range indices {
		pc := byIndex[i]
		if pc.id == "" {
			pc.id = fmt.Sprintf("call_%d", i)
		}
		calls = append(calls, *pc)
	}
	return content.String(), calls, nil
}

func endEvent(sessionID, messageID, content string) Event {
	e := newEvent(EventEnd, sessionID, messageID)
	e.Content = content
	return e
}

func errorEvent(sessionID, messageID string, err error) Event {
	e := newEvent(EventError, sessionID, messageID)
	e.Error = err.Error()
	return e
}

// systemPrompt composes the static rules, the current-trip context block
// (when one is active), and the tool-usage guide, per §4.5.
func (a *ChatAgent) systemPrompt(trip *orchestration.FinalItinerary) string {
	var b strings.Builder
	b.WriteString("You are a multi-day trip planning assistant. Use the available tools to search, plan, and modify itineraries rather than guessing facts. Always confirm destructive or cost-affecting changes with the user before finalizing them.\n")

	if trip != nil {
		b.WriteString("\nCurrent trip:\n")
		fmt.Fprintf(&b, "- Destination: %s\n", trip.Destination)
		if len(trip.Days) > 0 {
			fmt.Fprintf(&b, "- Dates: %s to %s\n", trip.Days[0].Date, trip.Days[len(trip.Days)-1].Date)
		}
		fmt.Fprintf(&b, "- Estimated total cost: %.2f\n", trip.Cost.Total)
		for _, d := range trip.Days {
			names := make([]string, 0, len(d.Activities))
			for _, act := range d.Activities {
				names = append(names, act.Name)
			}
			fmt.Fprintf(&b, "- Day %d: %s\n", d.DayIndex, strings.Join(names, ", "))
		}
	}

	b.WriteString("\nWhen editing an existing trip, always call prepare_itinerary_modification first and show the user the preview before calling confirm_itinerary_modification. split_day, merge_days, and regenerate_trip_segment are not supported operations.\n")
	return b.String()
}
