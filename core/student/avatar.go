package student

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/g4mless/mykelas-web/core"
	"github.com/g4mless/mykelas-web/core/klasapi"
	"github.com/g4mless/mykelas-web/core/media"
)

// RefreshAvatar fetches the profile picture URL. A 404 means there is no avatar; any other
// failure is recorded in State().AvatarErr and leaves the current URL in place.
func (c *Cache) RefreshAvatar(ctx context.Context) error {
	snap := c.sessions.Current()
	if snap.Session == nil {
		return core.ErrNoSession
	}

	c.mu.Lock()
	c.avatarGen++
	gen := c.avatarGen
	c.avatarLoading = true
	c.avatarErr = ""
	c.mu.Unlock()

	pic, err := c.api.FetchProfilePicture(ctx, snap.AccessToken())
	current := c.isCurrentUser(snap.UserID())

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.avatarGen || !current {
		c.logger.Debug("discarding superseded avatar load", map[string]interface{}{"user": snap.UserID()})
		return nil
	}
	c.avatarLoading = false
	switch {
	case klasapi.IsStatus(err, http.StatusNotFound):
		c.avatarURL = ""
	case err != nil:
		c.logger.Warn("loading avatar", errors.Wrap(err, "loading avatar"), snap.Session.User)
		c.avatarErr = err.Error()
	default:
		c.avatarURL = pic.AvatarURL.String
	}
	return nil
}

// UploadAvatar crops the image to a square, uploads it and reloads the profile.
func (c *Cache) UploadAvatar(ctx context.Context, filename string, content io.Reader) (*klasapi.ProfilePictureUpload, error) {
	snap := c.sessions.Current()
	if snap.Session == nil {
		return nil, core.ErrNoSession
	}

	file, err := media.PrepareAvatar(filename, content, c.avatarSize)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.UploadProfilePicture(ctx, snap.AccessToken(), file.Name, bytes.NewReader(file.Data))
	if err != nil {
		return nil, err
	}

	if c.isCurrentUser(snap.UserID()) {
		c.mu.Lock()
		c.avatarGen++ // an older refresh must not overwrite the new picture
		c.avatarURL = resp.AvatarURL.String
		c.avatarErr, c.avatarLoading = "", false
		c.mu.Unlock()
	}

	c.Load(ctx)
	return resp, nil
}
