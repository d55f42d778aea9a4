package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"gigworks-controlplane/pkg/client"
	"gigworks-controlplane/pkg/config"
	"gigworks-controlplane/pkg/errutil"
)

// Resolver normalizes externally-sourced team member references (explicit
// ids, usernames, emails) into canonical user ids and verifies clan
// membership. Resolution is all-or-nothing: payout arithmetic downstream
// assumes every member id in a plan is valid, so a single unresolvable
// reference fails the whole batch.
type Resolver struct {
	clan    client.ClanAPI
	timeout time.Duration
}

type ResolverParams struct {
	fx.In

	Clan   client.ClanAPI
	Config *config.Config
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		clan:    p.Clan,
		timeout: p.Config.ClanService.Timeout,
	}
}

// ResolveTeam resolves every reference in one batched remote call and
// returns canonical members in input order.
func (r *Resolver) ResolveTeam(ctx context.Context, clanID string, refs []client.MemberRef) ([]client.ResolvedMember, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	normalized := make([]client.MemberRef, len(refs))
	for i, ref := range refs {
		// a "username" that is already a well-formed id is a direct lookup
		if ref.UserID == "" && looksLikeUserID(ref.Username) {
			ref.UserID = ref.Username
			ref.Username = ""
		}
		normalized[i] = ref
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resolved, err := r.clan.ResolveMembers(ctx, clanID, normalized)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errutil.Timeout("clan membership resolution timed out", errutil.WithErr(err))
		}
		return nil, err
	}

	if len(resolved) != len(normalized) {
		zap.L().Error("clan service returned mismatched resolution batch",
			zap.String("clan_id", clanID),
			zap.Int("requested", len(normalized)),
			zap.Int("returned", len(resolved)),
		)
		return nil, errutil.BadGateway("clan membership service returned an incomplete batch")
	}

	var details []errutil.Detail
	for i, member := range resolved {
		switch {
		case !member.Matched:
			details = append(details, errutil.Detail{
				Field:   refLabel(normalized[i]),
				Message: "no matching user",
			})
		case !member.IsMember:
			details = append(details, errutil.Detail{
				Field:   refLabel(normalized[i]),
				Message: "user is not a member of this clan",
			})
		}
	}
	if len(details) > 0 {
		return nil, errutil.UnprocessableEntity("unable to resolve team members", errutil.WithDetails(details...))
	}

	return resolved, nil
}

func looksLikeUserID(s string) bool {
	if s == "" {
		return false
	}
	_, err := snowflake.ParseString(s)
	return err == nil
}

func refLabel(ref client.MemberRef) string {
	switch {
	case ref.UserID != "":
		return ref.UserID
	case ref.Username != "":
		return ref.Username
	case ref.Email != "":
		return ref.Email
	default:
		return fmt.Sprintf("%+v", ref)
	}
}
