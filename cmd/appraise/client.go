package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/kalambet/appraise/internal/config"
	"github.com/kalambet/appraise/internal/session"
)

const localTokenTTL = 12 * time.Hour

// Session flags shared by the client commands.
var (
	flagServer string
	flagToken  string
	flagUser   string
	flagEmail  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "server base URL (default http://127.0.0.1:<server.port>)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "session token (default $APPRAISE_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagUser, "user", "", "sign a local session for this user id instead of --token")
	rootCmd.PersistentFlags().StringVar(&flagEmail, "email", "", "email for a --user session")
}

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := sessionToken(config.NewKeychain())
	if err != nil {
		return nil, err
	}

	return &apiClient{
		baseURL:    serverURL(cfg),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// newPipelineClient authenticates with the pipeline token instead of a session.
var newPipelineClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := config.Secret(config.NewKeychain(), config.SecretPipeline)
	if err != nil {
		return nil, fmt.Errorf("getting pipeline token: %w", err)
	}

	return &apiClient{
		baseURL:    serverURL(cfg),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func serverURL(cfg config.Config) string {
	if flagServer != "" {
		return flagServer
	}
	return fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
}

// sessionToken resolves the session token from --token, $APPRAISE_TOKEN or,
// with --user, by signing one with the local session secret.
func sessionToken(kc config.Keychain) (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if tok := os.Getenv("APPRAISE_TOKEN"); tok != "" {
		return tok, nil
	}
	if flagUser == "" {
		return "", fmt.Errorf("%w: pass --token, set APPRAISE_TOKEN, or use --user to sign a local session", session.ErrNoSession)
	}
	secret, err := config.Secret(kc, config.SecretJWT)
	if err != nil {
		return "", fmt.Errorf("getting session secret: %w", err)
	}
	return session.NewIssuer(secret, localTokenTTL).Issue(session.Session{UserID: flagUser, Email: flagEmail})
}

func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is appraise running? (%w)", err)
	}
	return resp, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req)
}

func (c *apiClient) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *apiClient) patch(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, path, body)
}

// postFile sends fields and one file as multipart/form-data.
func (c *apiClient) postFile(ctx context.Context, path string, fields map[string]string, fileName string, data []byte) (*http.Response, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.send(req)
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
