package follow

import (
	"encoding/json"
	"testing"

	"github.com/ryanbliss/live-share-react-media-template/go/internal/presence"
)

func onlineUser(id string, data UserData) presence.User {
	raw, _ := json.Marshal(data)
	return presence.User{
		UserID:      id,
		Connections: []string{"conn-" + id},
		Data:        raw,
	}
}

func offlineUser(id string) presence.User {
	return presence.User{UserID: id}
}

func TestDeriveFollowModeType(t *testing.T) {
	tests := []struct {
		name   string
		local  string
		snap   Snapshot
		intent LocalIntent
		want   FollowModeType
	}{
		{
			name:  "no presenter no intent",
			local: "a",
			snap:  Snapshot{Users: []presence.User{onlineUser("a", UserData{})}},
			want:  FollowModeLocal,
		},
		{
			name:  "local user holds the claim alone",
			local: "a",
			snap: Snapshot{
				PresenterID: "a",
				Users:       []presence.User{onlineUser("a", UserData{})},
			},
			want: FollowModeActivePresenter,
		},
		{
			name:  "presenter with default follower",
			local: "a",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					onlineUser("b", UserData{}),
				},
			},
			want: FollowModeActiveFollowers,
		},
		{
			name:  "presenter with only an offline other",
			local: "a",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					offlineUser("b"),
				},
			},
			want: FollowModeActivePresenter,
		},
		{
			name:  "presenter whose other user follows someone else",
			local: "a",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					onlineUser("b", UserData{FollowingUserID: "c"}),
					onlineUser("c", UserData{}),
				},
			},
			want: FollowModeActiveFollowers, // c still follows a by default
		},
		{
			name:  "other user presents",
			local: "b",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					onlineUser("b", UserData{}),
				},
			},
			want: FollowModeFollowPresenter,
		},
		{
			name:  "presenter claim with offline presenter",
			local: "b",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					offlineUser("a"),
					onlineUser("b", UserData{}),
				},
			},
			want: FollowModeLocal,
		},
		{
			name:  "explicit follow target online",
			local: "b",
			snap: Snapshot{
				Users: []presence.User{
					onlineUser("b", UserData{}),
					onlineUser("c", UserData{}),
				},
			},
			intent: LocalIntent{FollowingUserID: "c"},
			want:   FollowModeFollowUser,
		},
		{
			name:  "explicit follow target wins over presenter",
			local: "b",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					onlineUser("b", UserData{}),
					onlineUser("c", UserData{}),
				},
			},
			intent: LocalIntent{FollowingUserID: "c"},
			want:   FollowModeFollowUser,
		},
		{
			name:  "followed user disconnected",
			local: "b",
			snap: Snapshot{
				Users: []presence.User{
					onlineUser("b", UserData{}),
					offlineUser("c"),
				},
			},
			intent: LocalIntent{FollowingUserID: "c"},
			want:   FollowModeLocal,
		},
		{
			name:  "suspended while following presenter",
			local: "b",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					onlineUser("b", UserData{}),
				},
			},
			intent: LocalIntent{Suspended: true},
			want:   FollowModeSuspendFollowPresenter,
		},
		{
			name:  "suspended while following user",
			local: "b",
			snap: Snapshot{
				Users: []presence.User{
					onlineUser("b", UserData{}),
					onlineUser("c", UserData{}),
				},
			},
			intent: LocalIntent{FollowingUserID: "c", Suspended: true},
			want:   FollowModeSuspendFollowUser,
		},
		{
			name:  "presenting wins over stale follow intent",
			local: "a",
			snap: Snapshot{
				PresenterID: "a",
				Users: []presence.User{
					onlineUser("a", UserData{}),
					onlineUser("b", UserData{}),
				},
			},
			intent: LocalIntent{FollowingUserID: "b"},
			want:   FollowModeActiveFollowers,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveFollowModeType(tt.local, tt.snap, tt.intent)
			if got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
