// Package graphdb implements storage.Store over the GraphDB / RDF4J REST API.
package graphdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360studio/semguard/export"
	"github.com/c360studio/semguard/graph"
	"github.com/c360studio/semguard/storage"
)

// maxResponseSize limits response bodies to prevent memory exhaustion.
const maxResponseSize = 256 * 1024 * 1024 // 256MB

// DefaultTimeout bounds every remote call.
const DefaultTimeout = 30 * time.Second

// Pseudo-graphs GraphDB exposes to separate statement provenance.
const (
	ExplicitGraph = "http://www.ontotext.com/explicit"
	ImplicitGraph = "http://www.ontotext.com/implicit"

	systemNamespace = "http://www.ontotext.com/owlim/system#"
)

// Client talks to one GraphDB server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	username   string
	password   string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ storage.Store = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithBasicAuth sets credentials sent with every request.
func WithBasicAuth(username, password string) ClientOption {
	return func(client *Client) {
		client.username = username
		client.password = password
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		if d > 0 {
			client.timeout = d
		}
	}
}

// WithRateLimiter throttles outgoing requests.
func WithRateLimiter(l *rate.Limiter) ClientOption {
	return func(client *Client) {
		client.limiter = l
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	accept      string
}

// do executes one request and returns the response body. Non-2xx statuses
// are classified into transient and fatal errors; network failures and
// per-call timeouts are transient.
func (c *Client) do(ctx context.Context, req request) ([]byte, int, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("%s: rate limiter: %w", req.op, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(callCtx, req.method, u, body)
	if err != nil {
		return nil, 0, storage.NewFatalError(fmt.Errorf("%s: create HTTP request: %w", req.op, err))
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if req.accept != "" {
		httpReq.Header.Set("Accept", req.accept)
	}
	if c.username != "" {
		httpReq.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debug("Sending store request", "op", req.op, "method", req.method, "url", u)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// The caller cancelled; not a store failure.
			return nil, 0, fmt.Errorf("%s: %w", req.op, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, storage.NewTransientError(fmt.Errorf("%s: timed out after %s: %w", req.op, c.timeout, err))
		}
		return nil, 0, storage.NewTransientError(fmt.Errorf("%s: HTTP request failed: %w", req.op, err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, httpResp.StatusCode, storage.NewTransientError(fmt.Errorf("%s: read response body: %w", req.op, err))
	}

	c.logger.Debug("Store response",
		"op", req.op,
		"status", httpResp.StatusCode,
		"bytes", len(respBody),
		"duration", time.Since(start))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return respBody, httpResp.StatusCode, storage.ClassifyHTTPError(req.op, httpResp.StatusCode, respBody)
	}
	return respBody, httpResp.StatusCode, nil
}

func repoPath(repo string) string {
	return "/repositories/" + url.PathEscape(repo)
}

func restRepoPath(repo string) string {
	return "/rest/repositories/" + url.PathEscape(repo)
}

// contextParam encodes a graph for the RDF4J context parameter. The default
// graph is "null".
func contextParam(graphURI string) string {
	if graphURI == "" {
		return "null"
	}
	return "<" + graphURI + ">"
}

// CreateRepository creates a GraphDB repository with the configured ruleset.
func (c *Client) CreateRepository(ctx context.Context, cfg storage.RepositoryConfig) error {
	config, err := repositoryConfigTurtle(cfg)
	if err != nil {
		return storage.NewFatalError(fmt.Errorf("create repository: %w", err))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("config", "config.ttl")
	if err != nil {
		return storage.NewFatalError(fmt.Errorf("create repository: %w", err))
	}
	if _, err := part.Write([]byte(config)); err != nil {
		return storage.NewFatalError(fmt.Errorf("create repository: %w", err))
	}
	if err := mw.Close(); err != nil {
		return storage.NewFatalError(fmt.Errorf("create repository: %w", err))
	}

	_, _, err = c.do(ctx, request{
		op:          "create repository " + cfg.ID,
		method:      http.MethodPost,
		path:        "/rest/repositories",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return err
	}
	c.logger.Info("Created repository", "repository", cfg.ID, "ruleset", cfg.Ruleset.StoreName())
	return nil
}

// repositoryConfigTurtle renders the repository template GraphDB expects.
func repositoryConfigTurtle(cfg storage.RepositoryConfig) (string, error) {
	const (
		rep     = "http://www.openrdf.org/config/repository#"
		sr      = "http://www.openrdf.org/config/repository/sail#"
		sail    = "http://www.openrdf.org/config/sail#"
		graphdb = "http://www.ontotext.com/config/graphdb#"
	)
	doc := graph.NewDocument()
	for prefix, ns := range map[string]string{"rep": rep, "sr": sr, "sail": sail, "graphdb": graphdb, "rdfs": graph.RDFS} {
		if err := doc.Bind(prefix, ns); err != nil {
			return "", err
		}
	}
	title := cfg.Title
	if title == "" {
		title = cfg.ID
	}
	root, impl, sailImpl := doc.NewBlank(), doc.NewBlank(), doc.NewBlank()
	doc.Add(root, graph.IRI(graph.RDFType), graph.IRI(rep+"Repository"))
	doc.Add(root, graph.IRI(rep+"repositoryID"), graph.Literal(cfg.ID))
	doc.Add(root, graph.IRI(graph.RDFSLabel), graph.Literal(title))
	doc.Add(root, graph.IRI(rep+"repositoryImpl"), impl)
	doc.Add(impl, graph.IRI(rep+"repositoryType"), graph.Literal("graphdb:SailRepository"))
	doc.Add(impl, graph.IRI(sr+"sailImpl"), sailImpl)
	doc.Add(sailImpl, graph.IRI(sail+"sailType"), graph.Literal("graphdb:Sail"))
	doc.Add(sailImpl, graph.IRI(graphdb+"ruleset"), graph.Literal(cfg.Ruleset.StoreName()))
	return export.Serialize(doc, export.FormatTurtle)
}

// DropRepository deletes a repository.
func (c *Client) DropRepository(ctx context.Context, repo string) error {
	_, _, err := c.do(ctx, request{
		op:     "drop repository " + repo,
		method: http.MethodDelete,
		path:   restRepoPath(repo),
	})
	return err
}

// RepositoryExists reports whether repo exists.
func (c *Client) RepositoryExists(ctx context.Context, repo string) (bool, error) {
	_, status, err := c.do(ctx, request{
		op:     "get repository " + repo,
		method: http.MethodGet,
		path:   restRepoPath(repo),
		accept: "application/json",
	})
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListGraphs returns the named graphs of repo.
func (c *Client) ListGraphs(ctx context.Context, repo string) ([]string, error) {
	body, _, err := c.do(ctx, request{
		op:     "list graphs " + repo,
		method: http.MethodGet,
		path:   repoPath(repo) + "/contexts",
		accept: "application/sparql-results+json",
	})
	if err != nil {
		return nil, err
	}
	rows, err := parseBindings(body)
	if err != nil {
		return nil, storage.NewFatalError(fmt.Errorf("list graphs %s: %w", repo, err))
	}
	var out []string
	for _, row := range rows {
		if v, ok := row["contextID"]; ok && v.Type == "uri" {
			out = append(out, v.Value)
		}
	}
	return out, nil
}

// Load adds doc's statements to the graph.
func (c *Client) Load(ctx context.Context, repo, graphURI string, doc *graph.Document) error {
	data, err := export.Serialize(doc, export.FormatNTriples)
	if err != nil {
		return storage.NewFatalError(fmt.Errorf("load %s: %w", repo, err))
	}
	q := url.Values{}
	if graphURI != "" {
		q.Set("context", contextParam(graphURI))
	}
	_, _, err = c.do(ctx, request{
		op:          "load " + repo,
		method:      http.MethodPost,
		path:        repoPath(repo) + "/statements",
		query:       q,
		body:        []byte(data),
		contentType: export.FormatRegistry[export.FormatNTriples].MIMEType,
	})
	if err != nil {
		return err
	}
	c.logger.Debug("Loaded statements", "repository", repo, "graph", graphURI, "statements", doc.Len())
	return nil
}

// Clear removes every explicit statement of the graph.
func (c *Client) Clear(ctx context.Context, repo, graphURI string) error {
	q := url.Values{}
	q.Set("context", contextParam(graphURI))
	_, _, err := c.do(ctx, request{
		op:     "clear " + repo,
		method: http.MethodDelete,
		path:   repoPath(repo) + "/statements",
		query:  q,
	})
	return err
}

// Export downloads statements as N-Triples and parses them.
func (c *Client) Export(ctx context.Context, repo string, opts storage.ExportOptions) (*graph.Document, error) {
	q := url.Values{}
	q.Set("infer", strconv.FormatBool(opts.IncludeInferred))
	if !opts.AllGraphs {
		q.Set("context", contextParam(opts.Graph))
	}
	body, _, err := c.do(ctx, request{
		op:     "export " + repo,
		method: http.MethodGet,
		path:   repoPath(repo) + "/statements",
		query:  q,
		accept: export.FormatRegistry[export.FormatNTriples].MIMEType,
	})
	if err != nil {
		return nil, err
	}
	doc, err := graph.Parse(bytes.NewReader(body), "")
	if err != nil {
		return nil, storage.NewFatalError(fmt.Errorf("export %s: %w", repo, err))
	}
	return doc, nil
}

// Count counts statements in the explicit and implicit pseudo-graphs.
func (c *Client) Count(ctx context.Context, repo string) (storage.Counts, error) {
	explicit, err := c.countGraph(ctx, repo, ExplicitGraph)
	if err != nil {
		return storage.Counts{}, err
	}
	inferred, err := c.countGraph(ctx, repo, ImplicitGraph)
	if err != nil {
		return storage.Counts{}, err
	}
	return storage.Counts{Explicit: explicit, Inferred: inferred}, nil
}

func (c *Client) countGraph(ctx context.Context, repo, pseudoGraph string) (int, error) {
	query := fmt.Sprintf("SELECT (COUNT(*) AS ?count) FROM <%s> WHERE { ?s ?p ?o }", pseudoGraph)
	body, _, err := c.do(ctx, request{
		op:     "count " + repo,
		method: http.MethodGet,
		path:   repoPath(repo),
		query:  url.Values{"query": {query}},
		accept: "application/sparql-results+json",
	})
	if err != nil {
		return 0, err
	}
	rows, err := parseBindings(body)
	if err != nil {
		return 0, storage.NewFatalError(fmt.Errorf("count %s: %w", repo, err))
	}
	if len(rows) == 0 {
		return 0, storage.NewFatalError(fmt.Errorf("count %s: empty result", repo))
	}
	n, err := strconv.Atoi(rows[0]["count"].Value)
	if err != nil {
		return 0, storage.NewFatalError(fmt.Errorf("count %s: %w", repo, err))
	}
	return n, nil
}

// repositoryConfig is the JSON repository configuration of the REST API.
// Only the ruleset parameter is interpreted; everything else round-trips.
type repositoryConfig map[string]json.RawMessage

func (c *Client) getConfig(ctx context.Context, repo string) (repositoryConfig, map[string]json.RawMessage, error) {
	body, _, err := c.do(ctx, request{
		op:     "get config " + repo,
		method: http.MethodGet,
		path:   restRepoPath(repo),
		accept: "application/json",
	})
	if err != nil {
		return nil, nil, err
	}
	var cfg repositoryConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, nil, storage.NewFatalError(fmt.Errorf("get config %s: %w", repo, err))
	}
	params := map[string]json.RawMessage{}
	if raw, ok := cfg["params"]; ok {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, nil, storage.NewFatalError(fmt.Errorf("get config %s: params: %w", repo, err))
		}
	}
	return cfg, params, nil
}

// rulesetParam reads params.ruleset, which is either a plain string or an
// object with a "value" field depending on the server version.
func rulesetParam(params map[string]json.RawMessage) string {
	raw, ok := params["ruleset"]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Value string `json:"value"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Value
	}
	return ""
}

// Ruleset reads the repository's configured ruleset.
func (c *Client) Ruleset(ctx context.Context, repo string) (storage.RulesetConfiguration, error) {
	_, params, err := c.getConfig(ctx, repo)
	if err != nil {
		return storage.RulesetConfiguration{}, err
	}
	return storage.RulesetFromName(rulesetParam(params)), nil
}

// SetRuleset rewrites the ruleset parameter of the repository
// configuration. The store does not recompute inferred statements.
func (c *Client) SetRuleset(ctx context.Context, repo string, rs storage.RulesetConfiguration) error {
	cfg, params, err := c.getConfig(ctx, repo)
	if err != nil {
		return err
	}

	name := rs.StoreName()
	var value json.RawMessage
	if raw, ok := params["ruleset"]; ok && len(raw) > 0 && raw[0] == '{' {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return storage.NewFatalError(fmt.Errorf("set ruleset %s: %w", repo, err))
		}
		obj["value"] = name
		value, err = json.Marshal(obj)
		if err != nil {
			return storage.NewFatalError(fmt.Errorf("set ruleset %s: %w", repo, err))
		}
	} else {
		value, _ = json.Marshal(name)
	}
	params["ruleset"] = value
	if cfg == nil {
		cfg = repositoryConfig{}
	}
	cfg["params"], err = json.Marshal(params)
	if err != nil {
		return storage.NewFatalError(fmt.Errorf("set ruleset %s: %w", repo, err))
	}
	body, err := json.Marshal(cfg)
	if err != nil {
		return storage.NewFatalError(fmt.Errorf("set ruleset %s: %w", repo, err))
	}

	_, _, err = c.do(ctx, request{
		op:          "set ruleset " + repo,
		method:      http.MethodPut,
		path:        restRepoPath(repo),
		body:        body,
		contentType: "application/json",
	})
	if err != nil {
		return err
	}
	c.logger.Info("Changed ruleset", "repository", repo, "ruleset", name)
	return nil
}

// Reinfer asks the store to recompute inferred statements.
func (c *Client) Reinfer(ctx context.Context, repo string) error {
	update := fmt.Sprintf("INSERT DATA { [] <%sreinfer> [] }", systemNamespace)
	_, _, err := c.do(ctx, request{
		op:          "reinfer " + repo,
		method:      http.MethodPost,
		path:        repoPath(repo) + "/statements",
		body:        []byte(update),
		contentType: "application/sparql-update",
	})
	return err
}

// Capabilities reports provenance tracking for GraphDB repositories, which
// expose explicit and implicit pseudo-graphs.
func (c *Client) Capabilities(ctx context.Context, repo string) (storage.Capabilities, error) {
	cfg, _, err := c.getConfig(ctx, repo)
	if err != nil {
		return storage.Capabilities{}, err
	}
	var repoType string
	if raw, ok := cfg["type"]; ok {
		_ = json.Unmarshal(raw, &repoType)
	}
	switch repoType {
	case "graphdb", "free", "se", "ee":
		return storage.Capabilities{ProvenanceTracking: true}, nil
	}
	return storage.Capabilities{}, nil
}

type binding struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func parseBindings(body []byte) ([]map[string]binding, error) {
	var res struct {
		Results struct {
			Bindings []map[string]binding `json:"bindings"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, err
	}
	return res.Results.Bindings, nil
}
