package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

// serverAdapter implements Adapter by talking to a running OpenAI-compatible
// server (vLLM, llama.cpp server and friends expose the same surface).
type serverAdapter struct {
	baseURL        string
	apiKey         string
	reqTimeout     time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
}

// NewServerAdapter constructs an adapter attached to baseURL.
func NewServerAdapter(baseURL, apiKey string, reqTimeout, connectTimeout time.Duration) Adapter {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout stays 0 on the client: every request carries a context deadline.
	cli := &http.Client{Transport: tr, Timeout: 0}
	return &serverAdapter{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		reqTimeout:     reqTimeout,
		connectTimeout: connectTimeout,
		httpClient:     cli,
	}
}

// serverSession holds per-session state.
type serverSession struct {
	adapter *serverAdapter
	modelID string
	params  Params
}

func (a *serverAdapter) Start(modelDir string, params Params) (Session, error) {
	// In server mode the model is conveyed by name; vLLM serves the model
	// directory path as the model id.
	return &serverSession{adapter: a, modelID: strings.TrimSpace(modelDir), params: params}, nil
}

// completionRequest is the payload for /v1/completions.
type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Seed        int      `json:"seed,omitempty"`
	Stream      bool     `json:"stream"`
}

// streamChoice is a minimal subset of the OpenAI streaming response. Legacy
// completion streams put the fragment in "text"; chat-style ones in "delta".
type streamChoice struct {
	Text  string `json:"text"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason string `json:"finish_reason"`
}

type streamResponse struct {
	Object  string         `json:"object"`
	Choices []streamChoice `json:"choices"`
}

func (s *serverSession) Complete(ctx context.Context, prompt string, onToken func(string) error) (Result, error) {
	if s.adapter == nil || s.adapter.httpClient == nil {
		return Result{}, errors.New("server adapter not initialized")
	}
	if s.adapter.reqTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.adapter.reqTimeout)
		defer cancel()
	}

	// Temperature 0 is meaningful (greedy), so both knobs are always sent.
	temp, topP := s.params.Temperature, s.params.TopP
	payload := completionRequest{
		Model:       s.modelID,
		Prompt:      prompt,
		MaxTokens:   s.params.MaxTokens,
		Temperature: &temp,
		TopP:        &topP,
		Stop:        s.params.Stop,
		Seed:        s.params.Seed,
		Stream:      true,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.adapter.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.adapter.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.adapter.apiKey)
	}
	resp, err := s.adapter.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Result{}, fmt.Errorf("engine http error: %s: %s", resp.Status, string(b))
	}

	r := bufio.NewReader(resp.Body)
	var final Result
	var content strings.Builder
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			l := strings.TrimSpace(line)
			if l == "" {
				// heartbeat/empty keepalive
			} else if strings.HasPrefix(strings.ToLower(l), "data:") {
				data := strings.TrimSpace(l[len("data:"):])
				if data == "[DONE]" {
					break
				}
				var msg streamResponse
				if e := json.Unmarshal([]byte(data), &msg); e == nil && len(msg.Choices) > 0 {
					frag := msg.Choices[0].Text
					if frag == "" {
						frag = msg.Choices[0].Delta.Content
					}
					if frag != "" {
						content.WriteString(frag)
						if onToken != nil {
							if cbErr := onToken(frag); cbErr != nil {
								final.Content = content.String()
								return final, cbErr
							}
						}
					}
					if fr := msg.Choices[0].FinishReason; fr != "" {
						final.FinishReason = fr
					}
					continue
				}
				log.Printf("engine=server event=unknown_stream_line line=%q", l)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if ctx.Err() != nil {
				final.Content = content.String()
				return final, ctx.Err()
			}
			final.Content = content.String()
			return final, err
		}
	}
	final.Content = content.String()
	return final, nil
}

func (s *serverSession) Close() error { return nil }
