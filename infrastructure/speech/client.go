// Package speech calls the external text-to-speech function.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

const maxAudioBytes = 16 << 20

var httpClient = &http.Client{Timeout: 30 * time.Second}

var ErrDisabled = errors.New("speech synthesis is not configured")

type Request struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	APIKey  string `json:"-"`
}

// Audio is synthesized speech ready for the gateway's audio endpoint.
type Audio struct {
	Base64   string
	MimeType string
	Size     int
}

// DataURI returns the audio as a data: URI.
func (a Audio) DataURI() string {
	return "data:" + a.MimeType + ";base64," + a.Base64
}

type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
}

func NewClient(url, apiKey string, timeout time.Duration) *Client {
	return &Client{url: url, apiKey: apiKey, timeout: timeout}
}

func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

// Synthesize accepts either a JSON answer {"audio": "<base64>", "mime_type": ...}
// or a raw audio body.
func (c *Client) Synthesize(ctx context.Context, in Request) (Audio, error) {
	if !c.Enabled() {
		return Audio{}, ErrDisabled
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return Audio{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	key := in.APIKey
	if key == "" {
		key = c.apiKey
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return Audio{}, fmt.Errorf("speech response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Audio{}, fmt.Errorf("speech returned HTTP %d", resp.StatusCode)
	}

	var audio Audio
	ct := resp.Header.Get("Content-Type")
	if ct == "application/json" || bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
		var out struct {
			Audio    string `json:"audio"`
			MimeType string `json:"mime_type"`
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return Audio{}, fmt.Errorf("decode speech response: %w", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(out.Audio)
		if err != nil || len(decoded) == 0 {
			return Audio{}, errors.New("speech response carried no audio")
		}
		audio = Audio{Base64: out.Audio, MimeType: out.MimeType, Size: len(decoded)}
	} else {
		if len(body) == 0 {
			return Audio{}, errors.New("speech response carried no audio")
		}
		audio = Audio{Base64: base64.StdEncoding.EncodeToString(body), MimeType: ct, Size: len(body)}
	}
	if audio.MimeType == "" {
		audio.MimeType = "audio/mpeg"
	}

	logrus.WithFields(logrus.Fields{
		"voice":   in.VoiceID,
		"size":    humanize.Bytes(uint64(audio.Size)),
		"elapsed": time.Since(start).String(),
	}).Debug("[SPEECH] synthesized reply")
	return audio, nil
}
