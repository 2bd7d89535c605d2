package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/alanyoungcy/recledger/internal/crypto"
)

// apiError is a rejected request as reported by the server.
type apiError struct {
	Status  int
	Code    uint32
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (http %d, code %d)", e.Message, e.Status, e.Code)
}

// apiClient sends requests to the ledger API, signing every mutation.
type apiClient struct {
	base   string
	signer *crypto.Signer
	http   *http.Client
	now    func() time.Time
}

func newAPIClient(base string, signer *crypto.Signer) *apiClient {
	return &apiClient{
		base:   strings.TrimSuffix(base, "/"),
		signer: signer,
		http:   &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

// do sends body (raw JSON, may be empty) and returns the "ok" payload.
func (c *apiClient) do(ctx context.Context, method, path string, body []byte) (json.RawMessage, error) {
	method = strings.ToUpper(method)
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		if c.signer == nil {
			return nil, fmt.Errorf("%s %s needs a key (--key or --key-file)", method, path)
		}
		if err := c.signer.SignRequest(req.Header, method, req.URL.Path, body, c.now()); err != nil {
			return nil, err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	var env struct {
		OK    json.RawMessage `json:"ok"`
		Error string          `json:"error"`
		Code  uint32          `json:"code"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%s %s: http %d: unexpected response %q", method, path, resp.StatusCode, raw)
	}
	if resp.StatusCode >= 400 || env.Error != "" {
		return nil, &apiError{Status: resp.StatusCode, Code: env.Code, Message: env.Error}
	}
	return env.OK, nil
}

// call sends v encoded as JSON (nil sends no body).
func (c *apiClient) call(ctx context.Context, method, path string, v any) (json.RawMessage, error) {
	var body []byte
	if v != nil {
		var err error
		if body, err = json.Marshal(v); err != nil {
			return nil, err
		}
	}
	return c.do(ctx, method, path, body)
}

// clientFrom builds a client from the global flags. The key is optional for
// read-only requests.
func clientFrom(cctx *cli.Context) (*apiClient, error) {
	var signer *crypto.Signer
	if cctx.String("key") != "" || cctx.String("key-file") != "" {
		s, err := loadSigner(cctx)
		if err != nil {
			return nil, err
		}
		signer = s
	}
	return newAPIClient(cctx.String("api"), signer), nil
}

// printResult pretty-prints a JSON result.
func printResult(cctx *cli.Context, res json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, res, "", "  "); err != nil {
		_, err = fmt.Fprintln(cctx.App.Writer, string(res))
		return err
	}
	_, err := fmt.Fprintln(cctx.App.Writer, buf.String())
	return err
}

// send is the common body of every typed command.
func send(cctx *cli.Context, method, path string, v any) error {
	c, err := clientFrom(cctx)
	if err != nil {
		return err
	}
	res, err := c.call(cctx.Context, method, path, v)
	if err != nil {
		return err
	}
	return printResult(cctx, res)
}

var callCmd = &cli.Command{
	Name:      "call",
	Usage:     "Send a request to any endpoint",
	ArgsUsage: "METHOD PATH [JSON-BODY]",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() < 2 || cctx.NArg() > 3 {
			return cli.Exit("expected METHOD PATH [JSON-BODY]", 2)
		}
		c, err := clientFrom(cctx)
		if err != nil {
			return err
		}
		var body []byte
		if cctx.NArg() == 3 {
			body = []byte(cctx.Args().Get(2))
			if !json.Valid(body) {
				return cli.Exit("body is not valid JSON", 2)
			}
		}
		res, err := c.do(cctx.Context, cctx.Args().Get(0), cctx.Args().Get(1), body)
		if err != nil {
			return err
		}
		return printResult(cctx, res)
	},
}
