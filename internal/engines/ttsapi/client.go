// Package ttsapi talks to an HTTP speech synthesis server exposing
// GET /voices?language= and GET /speak?voice=&text=.
package ttsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dubline/internal/engines"
	"dubline/internal/language"
	"dubline/internal/ledger"
	"dubline/internal/services"
)

const defaultTimeout = 60 * time.Second

// Client is a synthesis server client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a client for serverURL.
func New(serverURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(strings.TrimSpace(serverURL), "/"), httpClient: httpClient}
}

type voicePayload struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Gender    string   `json:"gender"`
	Languages []string `json:"languages"`
}

// Voices lists voices that speak lang. An empty lang lists every voice.
func (c *Client) Voices(ctx context.Context, lang string) ([]engines.Voice, error) {
	query := url.Values{}
	if iso := language.ToISO2(lang); iso != "" {
		query.Set("language", iso)
	}
	body, err := c.get(ctx, "/voices", query)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var payload []voicePayload
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, services.Wrap(services.ErrCollaborator, "", "tts voices", "decode response", err)
	}
	voices := make([]engines.Voice, 0, len(payload))
	for _, v := range payload {
		if strings.TrimSpace(v.ID) == "" {
			continue
		}
		if lang != "" && len(v.Languages) > 0 && !speaks(v.Languages, lang) {
			continue
		}
		voices = append(voices, engines.Voice{
			ID:        v.ID,
			Name:      v.Name,
			Gender:    ledger.ParseGender(v.Gender),
			Languages: v.Languages,
		})
	}
	return voices, nil
}

func speaks(languages []string, lang string) bool {
	for _, candidate := range languages {
		if language.SameBase(candidate, lang) {
			return true
		}
	}
	return false
}

// Synthesize writes the spoken text to outPath and returns its length in
// seconds, or 0 when the response is not a WAV file.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, outPath string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, services.Wrap(services.ErrValidation, "", "tts speak", "empty text", nil)
	}
	if strings.TrimSpace(voiceID) == "" {
		return 0, services.Wrap(services.ErrValidation, "", "tts speak", "no voice assigned", nil)
	}
	body, err := c.get(ctx, "/speak", url.Values{"voice": {voiceID}, "text": {text}})
	if err != nil {
		return 0, err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, services.Wrap(services.ErrResource, "", "tts speak", "create output dir", err)
	}
	tmp := outPath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, services.Wrap(services.ErrResource, "", "tts speak", "create clip", err)
	}
	header := &headerCapture{limit: 4096}
	written, copyErr := io.Copy(file, io.TeeReader(body, header))
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		return 0, services.Wrap(services.ErrCollaborator, "", "tts speak", "download clip", errors.Join(copyErr, closeErr))
	}
	if written == 0 {
		_ = os.Remove(tmp)
		return 0, services.Wrap(services.ErrCollaborator, "", "tts speak", "server returned no audio", nil)
	}
	if err := os.Rename(tmp, outPath); err != nil {
		return 0, services.Wrap(services.ErrResource, "", "tts speak", "finalize clip", err)
	}
	seconds, ok := WAVDuration(header.buf, written)
	if !ok {
		return 0, nil
	}
	return seconds, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (io.ReadCloser, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "tts request", endpoint, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, services.Wrap(services.ErrCollaborator, "", "tts request", path, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		marker := services.ErrCollaborator
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
			marker = services.ErrValidation
		}
		return nil, services.Wrap(marker, "", "tts request", path,
			fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	return resp.Body, nil
}

type headerCapture struct {
	buf   []byte
	limit int
}

func (h *headerCapture) Write(p []byte) (int, error) {
	if room := h.limit - len(h.buf); room > 0 {
		h.buf = append(h.buf, p[:min(room, len(p))]...)
	}
	return len(p), nil
}
