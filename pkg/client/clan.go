package client

import (
	"context"
	"fmt"
	"net/http"

	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/errutil"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"
)

var Module = fx.Module("client",
	fx.Provide(
		NewClanClient,
		NewProfileClient,
	),
)

// MemberRef is one team/payout member reference as supplied by the caller:
// either an explicit user id, or a username/email pair to be looked up.
type MemberRef struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ResolvedMember is the clan service's answer for one reference.
type ResolvedMember struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsMember bool   `json:"is_member"`
	Matched  bool   `json:"matched"`
}

// RosterMember is one entry of a clan's full member roster.
type RosterMember struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// ClanAPI is the clan-membership collaborator. Both calls are remote and
// carry the configured timeout.
type ClanAPI interface {
	ResolveMembers(ctx context.Context, clanID string, refs []MemberRef) ([]ResolvedMember, error)
	Roster(ctx context.Context, clanID string) ([]RosterMember, error)
}

type clanClient struct {
	http *resty.Client
}

func NewClanClient(cfg *config.Config) ClanAPI {
	return &clanClient{
		http: resty.New().
			SetBaseURL(cfg.ClanService.URL).
			SetTimeout(cfg.ClanService.Timeout),
	}
}

type resolveMembersRequest struct {
	Members []MemberRef `json:"members"`
}

type resolveMembersResponse struct {
	Members []ResolvedMember `json:"members"`
}

func (c *clanClient) ResolveMembers(ctx context.Context, clanID string, refs []MemberRef) ([]ResolvedMember, error) {
	var out resolveMembersResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(resolveMembersRequest{Members: refs}).
		SetResult(&out).
		Post(fmt.Sprintf("/clans/%s/members/resolve", clanID))
	if err != nil {
		return nil, errutil.BadGateway("clan membership service unreachable", errutil.WithErr(err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errutil.BadGateway(fmt.Sprintf("clan membership service returned %d", resp.StatusCode()))
	}

	return out.Members, nil
}

type rosterResponse struct {
	Members []RosterMember `json:"members"`
}

func (c *clanClient) Roster(ctx context.Context, clanID string) ([]RosterMember, error) {
	var out rosterResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/clans/%s/members", clanID))
	if err != nil {
		return nil, errutil.BadGateway("clan membership service unreachable", errutil.WithErr(err))
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errutil.BadGateway(fmt.Sprintf("clan membership service returned %d", resp.StatusCode()))
	}

	return out.Members, nil
}
