package store

import (
	"context"
	"errors"
	"strings"

	"atum-server/internal/models"
	"atum-server/internal/services"
)

// NewTribe is a tribe about to be founded.
type NewTribe struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Banner      string `json:"banner"`
}

func withMember(members []string, userID string) []string {
	return append(append(make([]string, 0, len(members)+1), members...), userID)
}

func withoutMember(members []string, userID string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != userID {
			out = append(out, m)
		}
	}
	return out
}

// Tribes

// CreateTribe founds a tribe with the user as its first member.
func (s *Store) CreateTribe(ctx context.Context, input NewTribe) (*models.Tribe, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Create Tribe", err)
	}

	tribe := &models.Tribe{
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Banner:      input.Banner,
		Members:     []string{s.userID},
		CreatedBy:   s.userID,
	}
	if err := tribe.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Create Tribe", err)
	}

	pending := *tribe
	err = s.apply(ctx, "create_tribe", change{
		local: func(snap *Snapshot) { snap.Tribes = prepend(snap.Tribes, &pending) },
		remote: func(ctx context.Context) error {
			return s.deps.Repo.CreateTribe(ctx, tribe)
		},
		settle: func(snap *Snapshot) { snap.Tribes = replace(snap.Tribes, &pending, tribe) },
		revert: func(snap *Snapshot) {
			snap.Tribes, _, _ = remove(snap.Tribes, func(t *models.Tribe) bool { return t == &pending })
		},
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Create Tribe", err)
	}

	res := s.success("Tribe Founded", tribe.Name)
	return tribe, s.withAudit(ctx, res, models.ActivityMilestone, "Tribe Founded", tribe.Name)
}

func (s *Store) tribe(ctx context.Context, tribeID string) (*models.Tribe, error) {
	s.mu.RLock()
	tribe := find(s.snapshot.Tribes, func(t *models.Tribe) bool { return t.ID == tribeID })
	s.mu.RUnlock()
	if tribe != nil {
		return tribe, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.deps.Repo.GetTribe(ctx, tribeID)
}

// setMembers swaps the local copy of tribe for one with the given members, returning the revert.
func setMembers(tribe *models.Tribe, members []string) (local, revert func(*Snapshot)) {
	next := *tribe
	next.Members = members
	local = func(snap *Snapshot) { snap.Tribes = replace(snap.Tribes, tribe, &next) }
	revert = func(snap *Snapshot) { snap.Tribes = replace(snap.Tribes, &next, tribe) }
	return local, revert
}

// JoinTribe adds the user to a tribe's members.
func (s *Store) JoinTribe(ctx context.Context, tribeID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Join Tribe", err)
	}

	tribe, err := s.tribe(ctx, tribeID)
	if err != nil {
		return s.notifyFailure("Could Not Join Tribe", err)
	}
	if tribe.HasMember(s.userID) {
		return s.info("Already a Member", "You are already part of "+tribe.Name+".")
	}

	local, revert := setMembers(tribe, withMember(tribe.Members, s.userID))
	err = s.apply(ctx, "join_tribe", change{
		local: local,
		remote: func(ctx context.Context) error {
			return s.deps.Repo.AddTribeMember(ctx, tribeID, s.userID)
		},
		revert: revert,
	})
	if err != nil {
		return s.notifyFailure("Could Not Join Tribe", err)
	}

	res := s.success("Joined Tribe", tribe.Name)
	return s.withAudit(ctx, res, models.ActivityNote, "Joined Tribe", tribe.Name)
}

// LeaveTribe removes the user from a tribe's members.
func (s *Store) LeaveTribe(ctx context.Context, tribeID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Leave Tribe", err)
	}

	tribe, err := s.tribe(ctx, tribeID)
	if err != nil {
		return s.notifyFailure("Could Not Leave Tribe", err)
	}
	if !tribe.HasMember(s.userID) {
		return s.info("Not a Member", "You are not part of "+tribe.Name+".")
	}

	local, revert := setMembers(tribe, withoutMember(tribe.Members, s.userID))
	err = s.apply(ctx, "leave_tribe", change{
		local: local,
		remote: func(ctx context.Context) error {
			return s.deps.Repo.RemoveTribeMember(ctx, tribeID, s.userID)
		},
		revert: revert,
	})
	if err != nil {
		return s.notifyFailure("Could Not Leave Tribe", err)
	}
	return s.success("Left Tribe", tribe.Name)
}

// FetchTribePosts loads the feed of a tribe and makes it the active one.
func (s *Store) FetchTribePosts(ctx context.Context, tribeID string) ([]*models.TribePost, error) {
	if s.userID == "" {
		return nil, ErrUnauthenticated
	}

	readCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	posts, err := s.deps.Repo.ListTribePosts(readCtx, tribeID)
	s.observe("fetch_tribe_posts", err)
	if err != nil {
		return nil, err
	}
	posts = orEmpty(posts)

	s.mutate(func(snap *Snapshot) {
		snap.ActiveTribeID = tribeID
		snap.TribePosts = posts
	})
	return append([]*models.TribePost{}, posts...), nil
}

// CreateTribePost adds a post to a tribe's feed. Only members can post; the author's current
// username is stored with the post.
func (s *Store) CreateTribePost(ctx context.Context, tribeID, content string) (*models.TribePost, Result) {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return nil, s.notifyFailure("Could Not Post", err)
	}

	post := &models.TribePost{
		TribeID:  tribeID,
		AuthorID: s.userID,
		Content:  strings.TrimSpace(content),
		Likes:    []string{},
	}
	if err := post.Validate(); err != nil {
		return nil, s.notifyFailure("Could Not Post", err)
	}

	tribe, err := s.tribe(ctx, tribeID)
	if err != nil {
		return nil, s.notifyFailure("Could Not Post", err)
	}
	if !tribe.HasMember(s.userID) {
		return nil, s.notifyFailure("Could Not Post", ErrNotTribeMember)
	}
	profile, err := s.profile(ctx)
	if err != nil {
		return nil, s.notifyFailure("Could Not Post", err)
	}
	post.AuthorName = profile.Username

	pending := *post
	err = s.apply(ctx, "create_tribe_post", change{
		local: func(snap *Snapshot) {
			if snap.ActiveTribeID == tribeID {
				snap.TribePosts = prepend(snap.TribePosts, &pending)
			}
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.CreateTribePost(ctx, post)
		},
		settle: func(snap *Snapshot) { snap.TribePosts = replace(snap.TribePosts, &pending, post) },
		revert: func(snap *Snapshot) {
			snap.TribePosts, _, _ = remove(snap.TribePosts, func(p *models.TribePost) bool { return p == &pending })
		},
	})
	if err != nil {
		return nil, s.notifyFailure("Could Not Post", err)
	}
	return post, Result{}
}

// LikeTribePost adds the user to a post's likes. Liking twice has no effect.
func (s *Store) LikeTribePost(ctx context.Context, postID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Like Post", err)
	}

	var previous, next *models.TribePost
	err = s.apply(ctx, "like_tribe_post", change{
		local: func(snap *Snapshot) {
			previous = find(snap.TribePosts, func(p *models.TribePost) bool { return p.ID == postID })
			if previous == nil || models.Contains(previous.Likes, s.userID) {
				return
			}
			liked := *previous
			liked.Likes = withMember(previous.Likes, s.userID)
			next = &liked
			snap.TribePosts = replace(snap.TribePosts, previous, next)
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.LikeTribePost(ctx, postID, s.userID)
		},
		revert: func(snap *Snapshot) {
			if next != nil {
				snap.TribePosts = replace(snap.TribePosts, next, previous)
			}
		},
	})
	if err != nil {
		return s.notifyFailure("Could Not Like Post", err)
	}
	return Result{}
}

// Social graph

func (s *Store) checkTarget(targetID string) error {
	if strings.TrimSpace(targetID) == "" {
		return models.ErrTargetUserRequired
	}
	if targetID == s.userID {
		return models.ErrSelfRelation
	}
	return nil
}

// setFollowing swaps the local profile for one with the given following list, returning the revert.
func setFollowing(profile *models.UserProfile, following []string) (local, revert func(*Snapshot)) {
	next := *profile
	next.Following = following
	local = func(snap *Snapshot) { snap.Profile = &next }
	revert = func(snap *Snapshot) { snap.Profile = profile }
	return local, revert
}

// FollowUser follows another builder. Both profiles change in one transaction.
func (s *Store) FollowUser(ctx context.Context, targetID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Follow", err)
	}

	if err := s.checkTarget(targetID); err != nil {
		return s.notifyFailure("Could Not Follow", err)
	}
	profile, err := s.profile(ctx)
	if err != nil {
		return s.notifyFailure("Could Not Follow", err)
	}
	if models.Contains(profile.Following, targetID) {
		return s.info("Already Following", "You already follow this builder.")
	}

	targetCtx, cancel := s.withTimeout(ctx)
	target, err := s.deps.Repo.GetProfile(targetCtx, targetID)
	cancel()
	if err != nil {
		return s.notifyFailure("Could Not Follow", err)
	}

	local, revert := setFollowing(profile, withMember(profile.Following, targetID))
	err = s.apply(ctx, "follow_user", change{
		local: local,
		remote: func(ctx context.Context) error {
			return s.deps.Repo.Follow(ctx, s.userID, targetID)
		},
		revert: revert,
	})
	if err != nil {
		return s.notifyFailure("Could Not Follow", err)
	}
	s.invalidate(ctx, targetID)

	res := s.success("Following", "You now follow @"+target.Username+".")
	return s.withAudit(ctx, res, models.ActivityNote, "Started Following", "@"+target.Username)
}

// UnfollowUser stops following another builder.
func (s *Store) UnfollowUser(ctx context.Context, targetID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Unfollow", err)
	}

	if err := s.checkTarget(targetID); err != nil {
		return s.notifyFailure("Could Not Unfollow", err)
	}
	profile, err := s.profile(ctx)
	if err != nil {
		return s.notifyFailure("Could Not Unfollow", err)
	}
	if !models.Contains(profile.Following, targetID) {
		return s.info("Not Following", "You do not follow this builder.")
	}

	local, revert := setFollowing(profile, withoutMember(profile.Following, targetID))
	err = s.apply(ctx, "unfollow_user", change{
		local: local,
		remote: func(ctx context.Context) error {
			return s.deps.Repo.Unfollow(ctx, s.userID, targetID)
		},
		revert: revert,
	})
	if err != nil {
		return s.notifyFailure("Could Not Unfollow", err)
	}
	s.invalidate(ctx, targetID)
	return Result{}
}

// SendFriendRequest asks another builder to become friends. A request that is already pending
// is not sent again; the user gets an informational notification instead.
func (s *Store) SendFriendRequest(ctx context.Context, toID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Send Request", err)
	}

	if err := s.checkTarget(toID); err != nil {
		return s.notifyFailure("Could Not Send Request", err)
	}
	profile, err := s.profile(ctx)
	if err != nil {
		return s.notifyFailure("Could Not Send Request", err)
	}
	if models.Contains(profile.Friends, toID) {
		return s.info("Already Friends", "You are already friends with this builder.")
	}

	request := &models.FriendRequest{
		FromID:   s.userID,
		FromName: profile.Username,
		ToID:     toID,
	}
	duplicate := false
	err = s.apply(ctx, "send_friend_request", change{
		remote: func(ctx context.Context) error {
			err := s.deps.Repo.SendFriendRequest(ctx, request)
			if errors.Is(err, services.ErrFriendRequestExists) {
				duplicate = true
				return nil
			}
			return err
		},
	})
	if err != nil {
		return s.notifyFailure("Could Not Send Request", err)
	}
	if duplicate {
		return s.info("Request Already Pending", "A friend request between you two is still pending.")
	}

	s.invalidate(ctx, toID)
	return s.success("Friend Request Sent", "Your request is on its way.")
}

// incomingRequest finds a pending request addressed to the user, refetching once when the
// local list does not have it yet.
func (s *Store) incomingRequest(ctx context.Context, requestID string) (*models.FriendRequest, error) {
	lookup := func() *models.FriendRequest {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return find(s.snapshot.FriendRequests, func(r *models.FriendRequest) bool { return r.ID == requestID })
	}

	if request := lookup(); request != nil {
		return request, nil
	}
	s.invalidate(ctx, s.userID)
	if err := s.FetchAll(ctx); err != nil {
		return nil, err
	}
	if request := lookup(); request != nil {
		return request, nil
	}
	return nil, services.ErrFriendRequestNotFound
}

// AcceptFriendRequest accepts a pending request. The request and both friend lists change in
// one transaction.
func (s *Store) AcceptFriendRequest(ctx context.Context, requestID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Accept Request", err)
	}

	request, err := s.incomingRequest(ctx, requestID)
	if err != nil {
		return s.notifyFailure("Could Not Accept Request", err)
	}

	var (
		index   int
		profile *models.UserProfile
	)
	err = s.apply(ctx, "accept_friend_request", change{
		local: func(snap *Snapshot) {
			snap.FriendRequests, _, index = remove(snap.FriendRequests, func(r *models.FriendRequest) bool { return r == request })
			profile = snap.Profile
			if profile != nil && !models.Contains(profile.Friends, request.FromID) {
				next := *profile
				next.Friends = withMember(profile.Friends, request.FromID)
				snap.Profile = &next
			}
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.AcceptFriendRequest(ctx, requestID, s.userID)
		},
		revert: func(snap *Snapshot) {
			if index >= 0 {
				snap.FriendRequests = insertAt(snap.FriendRequests, index, request)
			}
			snap.Profile = profile
		},
	})
	if err != nil {
		return s.notifyFailure("Could Not Accept Request", err)
	}
	s.invalidate(ctx, request.FromID)

	name := request.FromName
	if name == "" {
		name = "a new builder"
	}
	return s.success("Friend Added", "You are now friends with "+name+".")
}

// RejectFriendRequest declines a pending request.
func (s *Store) RejectFriendRequest(ctx context.Context, requestID string) Result {
	unlock, err := s.begin(ctx)
	defer unlock()
	if err != nil {
		return s.notifyFailure("Could Not Reject Request", err)
	}

	request, err := s.incomingRequest(ctx, requestID)
	if err != nil {
		return s.notifyFailure("Could Not Reject Request", err)
	}

	var index int
	err = s.apply(ctx, "reject_friend_request", change{
		local: func(snap *Snapshot) {
			snap.FriendRequests, _, index = remove(snap.FriendRequests, func(r *models.FriendRequest) bool { return r == request })
		},
		remote: func(ctx context.Context) error {
			return s.deps.Repo.RejectFriendRequest(ctx, requestID, s.userID)
		},
		revert: func(snap *Snapshot) {
			if index >= 0 {
				snap.FriendRequests = insertAt(snap.FriendRequests, index, request)
			}
		},
	})
	if err != nil {
		return s.notifyFailure("Could Not Reject Request", err)
	}
	s.invalidate(ctx, request.FromID)
	return Result{}
}
