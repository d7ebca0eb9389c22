// Package entraid discovers users, groups and group memberships from
// Microsoft Entra ID (Azure AD) via the Microsoft Graph REST API.
// Grounded on the same hand-rolled HTTP client idiom as
// internal/connector/azure (itself grounded on the teacher's
// enrichment.NVDClient). Only the first page of each Microsoft Graph
// listing is read: `@odata.nextLink` is decoded but not followed.
package entraid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/spectra-red/sentinel/internal/connector"
	"github.com/spectra-red/sentinel/internal/domain"
)

const (
	graphBaseURL   = "https://graph.microsoft.com/v1.0"
	requestTimeout = 30 * time.Second
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Connector discovers Entra ID users and groups (spec §4.5 identity
// connector).
type Connector struct {
	name    string
	client  httpDoer
	limiter *rate.Limiter
}

func New(name string) *Connector {
	return &Connector{name: name, client: &http.Client{Timeout: requestTimeout}, limiter: rate.NewLimiter(rate.Limit(10), 10)}
}

func (c *Connector) Name() string               { return c.name }
func (c *Connector) Type() domain.ConnectorType { return domain.ConnectorEntraID }

type graphPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type graphUser struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	AccountEnabled    bool   `json:"accountEnabled"`
}

type graphGroup struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type graphMember struct {
	ID   string `json:"id"`
	Type string `json:"@odata.type"`
}

func (c *Connector) HealthCheck(ctx context.Context, cfg connector.Config, creds connector.Credentials) error {
	if _, err := c.get(ctx, creds, "/users?$top=1"); err != nil {
		return domain.NewError(domain.KindCredential, "entra id health check failed", err)
	}
	return nil
}

// Discover enumerates users, groups and MEMBER_OF edges. MFA status is
// resolved per user via Graph's authentication methods endpoint; a
// per-user failure is tolerated and left null rather than aborting the
// run (spec §7 EndpointMissing/partial semantics generalized to a
// per-user sub-failure).
func (c *Connector) Discover(ctx context.Context, tenant domain.TenantID, cfg connector.Config, creds connector.Credentials) (connector.SyncResult, error) {
	result := connector.SyncResult{Status: domain.RunCompleted}

	userByExternalID := map[string]domain.User{}
	usersBody, err := c.get(ctx, creds, "/users")
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "users", Reason: err.Error()})
		return result, nil
	}
	var users graphPage[graphUser]
	if err := json.Unmarshal(usersBody, &users); err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "users", Reason: err.Error()})
		return result, nil
	}
	for _, u := range users.Value {
		mfaEnabled := c.resolveMFA(ctx, creds, u.ID, &result)
		user := domain.NewUser(tenant, domain.SourceEntraID, u.ID, u.DisplayName, domain.UserHuman, u.AccountEnabled, mfaEnabled)
		result.Users = append(result.Users, user)
		userByExternalID[u.ID] = user
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	groupsBody, err := c.get(ctx, creds, "/groups")
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "groups", Reason: err.Error()})
		return result, nil
	}
	var groups graphPage[graphGroup]
	if err := json.Unmarshal(groupsBody, &groups); err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "groups", Reason: err.Error()})
		return result, nil
	}
	for _, g := range groups.Value {
		group := domain.NewGroup(tenant, domain.SourceEntraID, g.ID, g.DisplayName)
		result.Groups = append(result.Groups, group)

		membersBody, err := c.get(ctx, creds, fmt.Sprintf("/groups/%s/members", g.ID))
		if err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "group members:" + g.ID, Reason: err.Error()})
			continue
		}
		var members graphPage[graphMember]
		if err := json.Unmarshal(membersBody, &members); err != nil {
			result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "group members:" + g.ID, Reason: err.Error()})
			continue
		}
		for _, m := range members.Value {
			if user, ok := userByExternalID[m.ID]; ok {
				result.Edges = append(result.Edges, connector.MakeEdge(tenant, user, group, domain.EdgeMemberOf, nil))
			}
		}
	}
	return result, nil
}

func (c *Connector) resolveMFA(ctx context.Context, creds connector.Credentials, userID string, result *connector.SyncResult) *bool {
	body, err := c.get(ctx, creds, fmt.Sprintf("/users/%s/authentication/methods", userID))
	if err != nil {
		result.DeadEnds = append(result.DeadEnds, connector.DeadEnd{Resource: "mfa:" + userID, Reason: err.Error()})
		return nil
	}
	var methods graphPage[json.RawMessage]
	if err := json.Unmarshal(body, &methods); err != nil {
		return nil
	}
	enabled := len(methods.Value) > 1 // every account has a password method; >1 means an MFA method is registered
	return &enabled
}

func (c *Connector) get(ctx context.Context, creds connector.Credentials, path string) ([]byte, error) {
	token := creds.Values["bearer_token"]
	if token == "" {
		return nil, domain.NewError(domain.KindCredential, "entra id connector requires bearer_token", nil)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, graphBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &connector.HTTPError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading graph response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &connector.HTTPError{StatusCode: resp.StatusCode, Err: fmt.Errorf("graph api returned status %d", resp.StatusCode)}
	}
	return body, nil
}
