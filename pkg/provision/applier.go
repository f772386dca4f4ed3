package provision

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/ivangotti/okta-disconnected-app-connector/pkg/grants"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/observability"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/reconcile"
	"github.com/ivangotti/okta-disconnected-app-connector/pkg/remote"
)

// userApplier performs the remote side of one reconciliation item: user
// lifecycle, application assignment and entitlement grants.
type userApplier struct {
	provider      remote.Provider
	resolver      *grants.Resolver
	index         grants.Index
	applicationID string
	prefix        string
	logger        *observability.Logger

	// userIDs records the remote user ID per correlation key for items that
	// applied cleanly. The snapshot writer reads it after the pass.
	userIDs map[string]string
	// skippedValues accumulates values that could not be resolved.
	skippedValues []grants.SkippedValue
}

func newUserApplier(provider remote.Provider, resolver *grants.Resolver, index grants.Index, applicationID, prefix string, logger *observability.Logger) *userApplier {
	return &userApplier{
		provider:      provider,
		resolver:      resolver,
		index:         index,
		applicationID: applicationID,
		prefix:        prefix,
		logger:        logger,
		userIDs:       make(map[string]string),
	}
}

// profileOf strips entitlement columns from the row; what remains is the
// user profile payload.
func (a *userApplier) profileOf(row map[string]string) map[string]string {
	profile := make(map[string]string, len(row))
	for column, value := range row {
		if strings.HasPrefix(column, a.prefix) {
			continue
		}
		profile[column] = value
	}
	return profile
}

func (a *userApplier) ApplyAdd(ctx context.Context, add reconcile.Add) error {
	user, err := a.provider.FindUser(ctx, add.Key)
	if err != nil && !remote.IsNotFound(err) {
		return err
	}
	if user == nil {
		password, err := generatePassword(16)
		if err != nil {
			return fmt.Errorf("failed to generate credentials for %q: %w", add.Key, err)
		}
		user, err = a.provider.CreateUser(ctx, a.profileOf(add.Row), remote.Credentials{Password: password})
		if err != nil {
			return err
		}
	}

	if err := a.provider.AssignUserToApplication(ctx, a.applicationID, user.ID, a.profileOf(add.Row)); err != nil {
		return err
	}
	a.userIDs[add.Key] = user.ID
	return a.syncGrants(ctx, user.ID, add.Key, add.Row)
}

func (a *userApplier) ApplyUpdate(ctx context.Context, update reconcile.Update) error {
	userID := update.Entity.ID
	if userID == "" {
		user, err := a.provider.FindUser(ctx, update.Key)
		if err != nil {
			return err
		}
		if user == nil {
			// Snapshot drift: treat the update as an add.
			return a.ApplyAdd(ctx, reconcile.Add{Key: update.Key, Row: update.Row})
		}
		userID = user.ID
	}

	if err := a.provider.UpdateUser(ctx, userID, a.profileOf(update.Row)); err != nil {
		return err
	}
	a.userIDs[update.Key] = userID
	return a.syncGrants(ctx, userID, update.Key, update.Row)
}

func (a *userApplier) ApplyRemove(ctx context.Context, remove reconcile.Remove) error {
	userID := remove.Entity.ID
	if userID == "" {
		user, err := a.provider.FindUser(ctx, remove.Key)
		if err != nil {
			return err
		}
		if user == nil {
			return nil
		}
		userID = user.ID
	}
	err := a.provider.UnassignUserFromApplication(ctx, a.applicationID, userID)
	if remote.IsNotFound(err) {
		// Already unassigned. The desired outcome holds.
		return nil
	}
	return err
}

// syncGrants converges the user's grants on the row's entitlement values.
// Stale grants are revoked before new ones are created.
func (a *userApplier) syncGrants(ctx context.Context, userID, key string, row map[string]string) error {
	desired, skipped := a.resolver.Resolve(ctx, row, a.index)
	if len(skipped) > 0 {
		a.skippedValues = append(a.skippedValues, skipped...)
	}

	existing, err := a.provider.ListUserGrants(ctx, a.applicationID, userID)
	if err != nil {
		return err
	}

	desiredValues := make(map[string]struct{})
	for _, group := range desired {
		for _, valueID := range group.ValueIDs {
			desiredValues[group.EntitlementID+"/"+valueID] = struct{}{}
		}
	}

	held := make(map[string]struct{}, len(existing))
	for _, grant := range existing {
		pair := grant.EntitlementID + "/" + grant.ValueID
		if _, wanted := desiredValues[pair]; !wanted {
			if err := a.provider.RevokeGrant(ctx, grant.ID); err != nil {
				return err
			}
			continue
		}
		held[pair] = struct{}{}
	}

	missing := make([]remote.GrantGroup, 0, len(desired))
	for _, group := range desired {
		valueIDs := make([]string, 0, len(group.ValueIDs))
		for _, valueID := range group.ValueIDs {
			if _, ok := held[group.EntitlementID+"/"+valueID]; !ok {
				valueIDs = append(valueIDs, valueID)
			}
		}
		if len(valueIDs) > 0 {
			missing = append(missing, remote.GrantGroup{EntitlementID: group.EntitlementID, ValueIDs: valueIDs})
		}
	}
	if len(missing) == 0 {
		return nil
	}

	a.logger.WithFields(map[string]interface{}{
		"user":   key,
		"groups": len(missing),
	}).Debug("creating grants")
	return a.provider.CreateGrant(ctx, a.applicationID, userID, missing)
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// generatePassword produces a random credential for created users. The
// remote forces a reset on first sign-in; the value only has to be unguessable.
func generatePassword(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(passwordAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(passwordAlphabet[n.Int64()])
	}
	return b.String(), nil
}
