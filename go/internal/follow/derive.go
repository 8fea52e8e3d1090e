package follow

// DeriveFollowModeType computes a participant's follow-mode type from the
// presence snapshot and its own declared intent. It is a pure function so
// the derivation can be re-run on any input change and tested in isolation.
//
// Resolution order:
//  1. Holding the presenter claim wins over everything else.
//  2. An explicit follow target binds to that user while the target is
//     online; a disconnected target reverts to local.
//  3. Otherwise an online presenter implies followPresenter.
//  4. Otherwise local.
func DeriveFollowModeType(localUserID string, snap Snapshot, intent LocalIntent) FollowModeType {
	if snap.PresenterID != "" && snap.PresenterID == localUserID {
		if hasFollowers(localUserID, snap) {
			return FollowModeActiveFollowers
		}
		return FollowModeActivePresenter
	}

	if intent.FollowingUserID != "" && intent.FollowingUserID != localUserID {
		if !userOnline(snap, intent.FollowingUserID) {
			return FollowModeLocal
		}
		if intent.Suspended {
			return FollowModeSuspendFollowUser
		}
		return FollowModeFollowUser
	}

	if snap.PresenterID != "" && userOnline(snap, snap.PresenterID) {
		if intent.Suspended {
			return FollowModeSuspendFollowPresenter
		}
		return FollowModeFollowPresenter
	}

	return FollowModeLocal
}

// hasFollowers reports whether any other online participant is bound to the
// presenter, either explicitly or by default (no explicit target of their
// own). Suspended followers still count: they are nominally following.
func hasFollowers(presenterID string, snap Snapshot) bool {
	for _, user := range snap.Users {
		if user.UserID == presenterID || !user.Online() {
			continue
		}
		data := DecodeUserData(user.Data)
		if data.FollowingUserID == presenterID || data.FollowingUserID == "" {
			return true
		}
	}
	return false
}

func userOnline(snap Snapshot, userID string) bool {
	for _, user := range snap.Users {
		if user.UserID == userID {
			return user.Online()
		}
	}
	return false
}
