package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"invsync/models"
	"invsync/node"
	"invsync/storage"
)

var (
	// claims holds the profile id each guest owns, on the host.
	claims = node.NewRemoteSlot[string]("profileSelect.claim")
	// claimed is the profile id this guest owns.
	claimed = node.NewNodeSlot[string]("profileSelect.claimed")
	// profileMap caches the host's advisory listing on a guest.
	profileMap = node.NewRemoteSlot[map[string]models.ProfileEntry]("profileMap.cache")
)

// claimant returns the remote, other than except, that owns profileID.
func claimant(n *node.Node, profileID string, except *node.Remote) *node.Remote {
	for _, remote := range n.Remotes() {
		if remote == except {
			continue
		}
		if id, ok := claims.Get(remote); ok && id == profileID {
			return remote
		}
	}
	return nil
}

// buildProfileMap lists the store's profiles as seen by viewer. A profile
// is locked when any remote other than viewer has claimed it.
func buildProfileMap(n *node.Node, viewer *node.Remote) (map[string]models.ProfileEntry, error) {
	if n.Store() == nil {
		return nil, ErrNoStore
	}
	profiles, err := n.Store().ListProfiles()
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.ProfileEntry, len(profiles))
	for _, profile := range profiles {
		out[profile.ID] = models.ProfileEntry{
			DisplayName: profile.DisplayName,
			Locked:      claimant(n, profile.ID, viewer) != nil,
		}
	}
	return out, nil
}

func sendProfileMap(n *node.Node, r *node.Remote) error {
	entries, err := buildProfileMap(n, r)
	if err != nil {
		return err
	}
	return r.Send(TypeProfileMap, entries)
}

func hostProfileMap() node.Activity {
	return node.Activity{
		Name:            "profileMap",
		RemoteConnected: sendProfileMap,
		Nanny: func(n *node.Node, r *node.Remote, _ time.Time) error {
			return sendProfileMap(n, r)
		},
	}
}

func guestProfileMap() node.Activity {
	return node.Activity{
		Name: "profileMap",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			if msgType != TypeProfileMap {
				return false, nil
			}
			var entries map[string]models.ProfileEntry
			if err := decode(payload, &entries); err != nil {
				return malformed(n, r, msgType, err)
			}
			profileMap.Set(r, entries)
			return true, nil
		},
	}
}

// Profiles returns the profile listing. On a guest it is the advisory map
// last received from the host; on the host a profile is locked when any
// player has claimed it.
func Profiles(n *node.Node) (map[string]models.ProfileEntry, error) {
	var out map[string]models.ProfileEntry
	err := n.Do(func(n *node.Node) error {
		if n.Role() == node.RoleHost {
			entries, err := buildProfileMap(n, nil)
			out = entries
			return err
		}
		host, err := hostRemote(n)
		if err != nil {
			return err
		}
		cached, _ := profileMap.Get(host)
		out = make(map[string]models.ProfileEntry, len(cached))
		for id, entry := range cached {
			out[id] = entry
		}
		return nil
	})
	return out, err
}

func hostProfileSelect() node.Activity {
	return node.Activity{
		Name: "profileSelect",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			switch msgType {
			case TypeProfileSelect:
				var profileID string
				if err := decode(payload, &profileID); err != nil {
					return malformed(n, r, msgType, err)
				}
				return settle(r, msgType, r.Send(TypeProfileSelectResponse, selectProfile(n, r, profileID)))
			case TypeProfileRelease:
				var profileID string
				if err := decode(payload, &profileID); err != nil {
					return malformed(n, r, msgType, err)
				}
				if id, ok := claims.Get(r); ok && id == profileID {
					r.Logger().Info("guest released profile claim", zap.String("profile", id))
					claims.Delete(r)
				}
				return true, nil
			default:
				return false, nil
			}
		},
		RemoteDisconnected: func(n *node.Node, r *node.Remote) error {
			if id, ok := claims.Get(r); ok {
				r.Logger().Info("released profile claim", zap.String("profile", id))
				claims.Delete(r)
			}
			return nil
		},
	}
}

// selectProfile arbitrates a claim. The first claimant wins.
func selectProfile(n *node.Node, r *node.Remote, profileID string) models.SelectResponse {
	rejected := models.SelectResponse{Result: false}
	if n.Store() == nil {
		return rejected
	}
	if owner := claimant(n, profileID, r); owner != nil {
		r.Logger().Info("profile claim rejected",
			zap.String("profile", profileID),
			zap.String("owner", owner.Name()),
		)
		return rejected
	}
	snapshot, err := n.Store().ExportProfile(profileID)
	if err != nil {
		r.Logger().Warn("profile claim for unknown profile", zap.String("profile", profileID), zap.Error(err))
		return rejected
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return rejected
	}

	claims.Set(r, profileID)
	r.Logger().Info("profile claimed", zap.String("profile", profileID))
	return models.SelectResponse{Result: true, Data: data}
}

func guestProfileSelect() node.Activity {
	return node.Activity{
		Name: "profileSelect",
		Message: func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
			switch msgType {
			case TypeProfileSelectResponse:
				r.Logger().Debug("dropping uncorrelated profile select response")
				return true, nil
			case TypeProfileRelease:
				var profileID string
				if err := decode(payload, &profileID); err != nil {
					return malformed(n, r, msgType, err)
				}
				id, ok := claimed.Get(n)
				if !ok || (profileID != "" && profileID != id) {
					return true, nil
				}
				claimed.Delete(n)
				r.Logger().Info("host released profile claim", zap.String("profile", id))
				n.UI().Alert(fmt.Sprintf("Profile %s is no longer yours.", id))
				return true, nil
			default:
				return false, nil
			}
		},
	}
}

// ChooseProfile asks the host for exclusive ownership of profileID and,
// when granted, merges the returned snapshot into the local store. It
// blocks until the host answers, so it must not run on the node loop.
func ChooseProfile(ctx context.Context, n *node.Node, profileID string) error {
	var host *node.Remote
	if err := n.Do(func(n *node.Node) error {
		var err error
		host, err = hostRemote(n)
		return err
	}); err != nil {
		return err
	}

	raw, err := host.Request(ctx, TypeProfileSelect, profileID, TypeProfileSelectResponse)
	if err != nil {
		if !errors.Is(err, node.ErrRemoteClosed) {
			abandonClaim(n, host, profileID)
		}
		return fmt.Errorf("choose profile %q: %w", profileID, err)
	}
	var response models.SelectResponse
	if err := decode(raw, &response); err != nil {
		return err
	}
	if !response.Result {
		return fmt.Errorf("choose profile %q: %w", profileID, ErrProfileLocked)
	}
	var snapshot models.ProfileSnapshot
	if err := decode(response.Data, &snapshot); err != nil {
		return err
	}

	return n.Do(func(n *node.Node) error {
		if err := applySnapshot(n, snapshot); err != nil {
			return err
		}
		claimed.Set(n, snapshot.Profile.ID)
		return nil
	})
}

// abandonClaim releases a claim the host may grant after we stopped
// waiting. A profile this guest already owns is kept.
func abandonClaim(n *node.Node, host *node.Remote, profileID string) {
	err := n.Do(func(n *node.Node) error {
		if id, ok := claimed.Get(n); ok && id == profileID {
			return nil
		}
		return host.Send(TypeProfileRelease, profileID)
	})
	if err != nil {
		n.Logger().Debug("profile release not sent", zap.String("profile", profileID), zap.Error(err))
	}
}

// ClaimedProfile returns the profile this guest owns. It must run on the
// node loop.
func ClaimedProfile(n *node.Node) (string, bool) {
	return claimed.Get(n)
}

func applySnapshot(n *node.Node, snapshot models.ProfileSnapshot) error {
	if n.Store() == nil {
		return ErrNoStore
	}
	_, err := n.Store().ImportProfile(snapshot, storage.ImportOptions{Override: true})
	return err
}

// Claimed profiles replicate host to guest on every tick.
func hostProfileSync() node.Activity {
	return node.Activity{
		Name: "profileSync",
		Nanny: func(n *node.Node, r *node.Remote, _ time.Time) error {
			profileID, ok := claims.Get(r)
			if !ok || n.Store() == nil {
				return nil
			}
			snapshot, err := n.Store().ExportProfile(profileID)
			if errors.Is(err, storage.ErrNotFound) {
				return releaseClaim(r, profileID)
			}
			if err != nil {
				return err
			}
			return r.Send(TypeProfileSync, snapshot)
		},
	}
}

func guestProfileSync() node.Activity {
	return node.Activity{
		Name:    "profileSync",
		Message: applyClaimedSnapshot(TypeProfileSync),
	}
}

// A guest may ask for its claimed profile to be resent.
func hostProfileReset() node.Activity {
	return node.Activity{
		Name: "profileReset",
		Message: func(n *node.Node, r *node.Remote, msgType string, _ json.RawMessage) (bool, error) {
			if msgType != TypeProfileReset {
				return false, nil
			}
			if _, ok := claims.Get(r); !ok {
				r.Logger().Info("profile reset without a claim")
				return settle(r, msgType, r.Send(TypeProfileRelease, ""))
			}
			return settle(r, msgType, resetClaim(n, r))
		},
	}
}

func guestProfileReset() node.Activity {
	return node.Activity{
		Name:    "profileReset",
		Message: applyClaimedSnapshot(TypeProfileReset),
	}
}

func applyClaimedSnapshot(want string) func(*node.Node, *node.Remote, string, json.RawMessage) (bool, error) {
	return func(n *node.Node, r *node.Remote, msgType string, payload json.RawMessage) (bool, error) {
		if msgType != want {
			return false, nil
		}
		var snapshot models.ProfileSnapshot
		if err := decode(payload, &snapshot); err != nil {
			return malformed(n, r, msgType, err)
		}
		if id, ok := claimed.Get(n); !ok || id != snapshot.Profile.ID {
			r.Logger().Warn("ignoring snapshot for unclaimed profile", zap.String("type", msgType), zap.String("profile", snapshot.Profile.ID))
			return true, nil
		}
		return settle(r, msgType, applySnapshot(n, snapshot))
	}
}

// ResetProfile resends the profile claimed by player in full.
func ResetProfile(n *node.Node, player string) error {
	return n.Do(func(n *node.Node) error {
		remote := n.FindByName(NormalizeName(player))
		if remote == nil {
			return fmt.Errorf("reset profile for %q: %w", player, ErrUnknownPlayer)
		}
		return resetClaim(n, remote)
	})
}

// RequestProfileReset asks the host to resend this guest's claimed profile.
func RequestProfileReset(n *node.Node) error {
	return n.Do(func(n *node.Node) error {
		if _, ok := claimed.Get(n); !ok {
			return ErrProfileUnowned
		}
		host, err := hostRemote(n)
		if err != nil {
			return err
		}
		return host.Send(TypeProfileReset, nil)
	})
}

func resetClaim(n *node.Node, r *node.Remote) error {
	profileID, ok := claims.Get(r)
	if !ok {
		return fmt.Errorf("reset profile for %q: %w", r.Name(), ErrProfileUnowned)
	}
	if n.Store() == nil {
		return ErrNoStore
	}
	snapshot, err := n.Store().ExportProfile(profileID)
	if errors.Is(err, storage.ErrNotFound) {
		return releaseClaim(r, profileID)
	}
	if err != nil {
		return err
	}
	return r.Send(TypeProfileReset, snapshot)
}

// releaseClaim drops r's claim on a deleted profile and tells the guest.
func releaseClaim(r *node.Remote, profileID string) error {
	r.Logger().Info("claimed profile deleted; releasing claim", zap.String("profile", profileID))
	claims.Delete(r)
	return r.Send(TypeProfileRelease, profileID)
}
