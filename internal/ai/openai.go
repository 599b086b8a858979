package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const assistantInstructions = "You are an AI study assistant called 'Study Buddy'. Your role is to help students learn and understand various concepts in their field of study.\n\n" +
	"When a student asks a question, provide clear and concise explanations of the relevant topics. Break down complex concepts into easily understandable parts. Share helpful resources, such as academic papers, tutorials, or online courses, that can further enhance their understanding.\n\n" +
	"Engage in meaningful discussions with the student to deepen their understanding of the subject matter. Encourage them to think critically and ask questions. Help them develop problem-solving skills and provide guidance on practical applications of the concepts they are learning.\n\n" +
	"Be friendly, supportive, and patient in your interactions. Motivate the student to stay curious and persistent in their learning journey. Foster a positive and encouraging learning environment.\n\n" +
	"Tailor your responses to the student's level of understanding and learning style. Adapt your explanations and examples to make the content more relatable and accessible.\n\n" +
	"Remember, your goal is to empower the student to grasp the material effectively and develop a strong foundation in their chosen field of study."

type BackendConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIGateway implements Gateway against the OpenAI Assistants v2 API (or a
// compatible endpoint).
type OpenAIGateway struct {
	cfg        BackendConfig
	httpClient *http.Client
}

func NewOpenAIGateway(cfg BackendConfig) *OpenAIGateway {
	return &OpenAIGateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 90 * time.Second},
	}
}

func (g *OpenAIGateway) UploadFile(ctx context.Context, name string, content []byte) (string, error) {
	const op = "upload file"

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "assistants"); err != nil {
		return "", rejectedErr(op, err)
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", rejectedErr(op, err)
	}
	if _, err := part.Write(content); err != nil {
		return "", rejectedErr(op, err)
	}
	if err := writer.Close(); err != nil {
		return "", rejectedErr(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url("/files"), &body)
	if err != nil {
		return "", rejectedErr(op, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var parsed struct {
		ID string `json:"id"`
	}
	if err := g.send(op, req, &parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", rejectedErr(op, fmt.Errorf("response missing file id"))
	}
	return parsed.ID, nil
}

func (g *OpenAIGateway) CreateCollection(ctx context.Context, name string, remoteFileIDs []string) (string, error) {
	const op = "create vector store"
	var parsed struct {
		ID string `json:"id"`
	}
	err := g.doJSON(ctx, op, http.MethodPost, "/vector_stores", map[string]interface{}{
		"name":     name,
		"file_ids": remoteFileIDs,
	}, &parsed)
	if err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", rejectedErr(op, fmt.Errorf("response missing vector store id"))
	}
	return parsed.ID, nil
}

func (g *OpenAIGateway) CreateAssistant(ctx context.Context, remoteCollectionID string) (string, error) {
	const op = "create assistant"
	var parsed struct {
		ID string `json:"id"`
	}
	err := g.doJSON(ctx, op, http.MethodPost, "/assistants", map[string]interface{}{
		"model":        g.cfg.Model,
		"name":         "Study Buddy",
		"instructions": assistantInstructions,
		"tools":        []map[string]string{{"type": "file_search"}},
		"tool_resources": map[string]interface{}{
			"file_search": map[string]interface{}{
				"vector_store_ids": []string{remoteCollectionID},
			},
		},
	}, &parsed)
	if err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", rejectedErr(op, fmt.Errorf("response missing assistant id"))
	}
	return parsed.ID, nil
}

func (g *OpenAIGateway) CreateThread(ctx context.Context) (string, error) {
	const op = "create thread"
	var parsed struct {
		ID string `json:"id"`
	}
	if err := g.doJSON(ctx, op, http.MethodPost, "/threads", map[string]interface{}{}, &parsed); err != nil {
		return "", err
	}
	if parsed.ID == "" {
		return "", rejectedErr(op, fmt.Errorf("response missing thread id"))
	}
	return parsed.ID, nil
}

func (g *OpenAIGateway) PostMessage(ctx context.Context, threadID, text string) error {
	return g.doJSON(ctx, "post message", http.MethodPost, "/threads/"+threadID+"/messages", map[string]interface{}{
		"role":    "user",
		"content": text,
	}, nil)
}

func (g *OpenAIGateway) StartRun(ctx context.Context, threadID, assistantID string) (RunHandle, error) {
	const op = "start run"
	var parsed struct {
		ID string `json:"id"`
	}
	err := g.doJSON(ctx, op, http.MethodPost, "/threads/"+threadID+"/runs", map[string]interface{}{
		"assistant_id": assistantID,
	}, &parsed)
	if err != nil {
		return RunHandle{}, err
	}
	if parsed.ID == "" {
		return RunHandle{}, rejectedErr(op, fmt.Errorf("response missing run id"))
	}
	return RunHandle{ThreadID: threadID, RunID: parsed.ID}, nil
}

func (g *OpenAIGateway) PollRun(ctx context.Context, run RunHandle) (RunStatus, error) {
	const op = "poll run"
	var parsed struct {
		Status string `json:"status"`
	}
	err := g.doJSON(ctx, op, http.MethodGet, "/threads/"+run.ThreadID+"/runs/"+run.RunID, nil, &parsed)
	if err != nil {
		return "", err
	}

	switch parsed.Status {
	case "completed":
		return RunCompleted, nil
	case "failed", "expired", "incomplete":
		return RunFailed, nil
	case "cancelled":
		return RunCancelled, nil
	case "queued", "in_progress", "cancelling", "requires_action":
		return RunPending, nil
	default:
		return "", rejectedErr(op, fmt.Errorf("unknown run status %q", parsed.Status))
	}
}

func (g *OpenAIGateway) FetchNewMessages(ctx context.Context, run RunHandle) ([]ThreadMessage, error) {
	const op = "fetch messages"
	path := "/threads/" + run.ThreadID + "/messages?order=asc&limit=100&run_id=" + run.RunID
	var parsed struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := g.doJSON(ctx, op, http.MethodGet, path, nil, &parsed); err != nil {
		return nil, err
	}

	var out []ThreadMessage
	for _, item := range parsed.Data {
		if item.Role != "assistant" {
			continue
		}
		var text strings.Builder
		for _, block := range item.Content {
			if block.Type == "text" {
				text.WriteString(block.Text.Value)
			}
		}
		if text.Len() == 0 {
			continue
		}
		out = append(out, ThreadMessage{Role: item.Role, Content: text.String()})
	}
	return out, nil
}

func (g *OpenAIGateway) CancelRun(ctx context.Context, run RunHandle) error {
	return g.doJSON(ctx, "cancel run", http.MethodPost, "/threads/"+run.ThreadID+"/runs/"+run.RunID+"/cancel", map[string]interface{}{}, nil)
}

func (g *OpenAIGateway) DeleteThread(ctx context.Context, threadID string) error {
	return g.doJSON(ctx, "delete thread", http.MethodDelete, "/threads/"+threadID, nil, nil)
}

func (g *OpenAIGateway) url(path string) string {
	return strings.TrimRight(g.cfg.BaseURL, "/") + path
}

func (g *OpenAIGateway) doJSON(ctx context.Context, op, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return rejectedErr(op, fmt.Errorf("marshal request failed: %w", err))
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.url(path), reader)
	if err != nil {
		return rejectedErr(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.send(op, req, out)
}

func (g *OpenAIGateway) send(op string, req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return transientErr(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transientErr(op, fmt.Errorf("read response failed: %w", err))
	}
	if resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("response status %d: %s", resp.StatusCode, string(raw))
		if retryableStatus(resp.StatusCode) {
			return transientErr(op, statusErr)
		}
		return rejectedErr(op, statusErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return rejectedErr(op, fmt.Errorf("parse response json failed: %w", err))
	}
	return nil
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}
