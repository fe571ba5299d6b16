package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Chaima-Idoudi/PFE-Dynamics365-sub000/internal/metrics"
)

// entitySets maps entity logical names to Web API entity set paths.
var entitySets = map[string]string{
	EntityUser:    "systemusers",
	EntityMessage: "cb_chatmessages",
	EntityCase:    "incidents",
	EntityNote:    "annotations",
}

// Dynamics is a Gateway backed by the Dynamics 365 Web API (OData).
type Dynamics struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewDynamics creates a Dynamics gateway. baseURL is the organization
// Web API root, e.g. https://org.crm.dynamics.com/api/data/v9.2.
func NewDynamics(baseURL, token string) *Dynamics {
	return &Dynamics{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Close is a no-op; the HTTP client holds no long-lived resources.
func (d *Dynamics) Close() {}

// Ping checks that the Web API root answers.
func (d *Dynamics) Ping(ctx context.Context) error {
	_, _, err := d.do(ctx, http.MethodGet, "/", nil)
	return err
}

func entitySet(entityType string) string {
	if set, ok := entitySets[entityType]; ok {
		return set
	}
	return entityType + "s"
}

// Retrieve fetches a single record. A 404 yields (nil, nil).
func (d *Dynamics) Retrieve(ctx context.Context, entityType, id string, fields []string) (Record, error) {
	defer observe("retrieve", time.Now())

	path := fmt.Sprintf("/%s(%s)", entitySet(entityType), id)
	if len(fields) > 0 {
		path += "?$select=" + strings.Join(fields, ",")
	}

	status, body, err := d.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status >= 400 {
		return nil, apiError("retrieve", status, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("dynamics retrieve: decode: %w", err)
	}
	return toRecord(entityType, raw), nil
}

// RetrieveMultiple runs an OData query built from q.
func (d *Dynamics) RetrieveMultiple(ctx context.Context, q Query) ([]Record, error) {
	defer observe("retrieve_multiple", time.Now())

	params := url.Values{}
	if len(q.Fields) > 0 {
		params.Set("$select", strings.Join(q.Fields, ","))
	}
	if filter := buildFilter(q.Conditions); filter != "" {
		params.Set("$filter", filter)
	}
	if q.OrderBy != "" {
		params.Set("$orderby", q.OrderBy+" asc")
	}
	if q.Limit > 0 {
		params.Set("$top", fmt.Sprintf("%d", q.Limit))
	}

	path := "/" + entitySet(q.EntityType)
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	status, body, err := d.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, apiError("retrieve_multiple", status, body)
	}

	var envelope struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("dynamics retrieve_multiple: decode: %w", err)
	}

	records := make([]Record, 0, len(envelope.Value))
	for _, raw := range envelope.Value {
		records = append(records, toRecord(q.EntityType, raw))
	}
	return records, nil
}

// Create inserts a record and returns the server-assigned id, parsed
// from the OData-EntityId response header.
func (d *Dynamics) Create(ctx context.Context, entityType string, fields map[string]any) (string, error) {
	defer observe("create", time.Now())

	payload, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	req, err := d.newRequest(ctx, http.MethodPost, "/"+entitySet(entityType), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("dynamics create: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return "", apiError("create", resp.StatusCode, body)
	}

	id := parseEntityID(resp.Header.Get("OData-EntityId"))
	if id == "" {
		return "", fmt.Errorf("dynamics create: missing OData-EntityId header")
	}
	return id, nil
}

// Update patches the given fields onto an existing record.
func (d *Dynamics) Update(ctx context.Context, entityType, id string, fields map[string]any) error {
	defer observe("update", time.Now())

	payload, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/%s(%s)", entitySet(entityType), id)
	status, body, err := d.do(ctx, http.MethodPatch, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if status >= 400 {
		return apiError("update", status, body)
	}
	return nil
}

// Delete removes a record.
func (d *Dynamics) Delete(ctx context.Context, entityType, id string) error {
	defer observe("delete", time.Now())

	path := fmt.Sprintf("/%s(%s)", entitySet(entityType), id)
	status, body, err := d.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return apiError("delete", status, body)
	}
	return nil
}

// Assign rebinds a record's owner to another user.
func (d *Dynamics) Assign(ctx context.Context, entityType, id, assigneeID string) error {
	return d.Update(ctx, entityType, id, map[string]any{
		"ownerid@odata.bind": fmt.Sprintf("/systemusers(%s)", assigneeID),
	})
}

func (d *Dynamics) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+d.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (d *Dynamics) do(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := d.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, nil, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("dynamics %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// buildFilter renders conditions to an OData $filter expression.
func buildFilter(conds []Condition) string {
	clauses := make([]string, 0, len(conds))
	for _, c := range conds {
		switch c.Op {
		case OpLike:
			clauses = append(clauses, fmt.Sprintf("contains(%s,%s)", c.Field, odataLiteral(c.Value)))
		default:
			clauses = append(clauses, fmt.Sprintf("%s eq %s", c.Field, odataLiteral(c.Value)))
		}
	}
	return strings.Join(clauses, " and ")
}

func odataLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", val)
	}
}

// parseEntityID extracts the GUID from an OData-EntityId header value
// such as https://org.crm.dynamics.com/api/data/v9.2/cb_chatmessages(guid).
func parseEntityID(header string) string {
	open := strings.LastIndex(header, "(")
	end := strings.LastIndex(header, ")")
	if open < 0 || end <= open {
		return ""
	}
	return header[open+1 : end]
}

// toRecord normalizes a raw Web API payload: the entity's primary id
// attribute (<logicalname>id) is surfaced as FieldID and OData
// annotations are dropped.
func toRecord(entityType string, raw map[string]any) Record {
	rec := make(Record, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, "@odata") || strings.Contains(k, "@OData") {
			continue
		}
		rec[k] = v
	}
	if id, ok := raw[entityType+"id"]; ok {
		rec[FieldID] = id
	}
	return rec
}

func apiError(op string, status int, body []byte) error {
	msg := string(body)
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return fmt.Errorf("dynamics %s: status %d: %s", op, status, msg)
}

func observe(op string, start time.Time) {
	metrics.CRMLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
