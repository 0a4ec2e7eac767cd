package skyward

import (
	"context"

	"skyassist-backend/lib/kvstore"
	scraper "skyassist-backend/lib/scrapers/skyward"
)

// CredentialSource supplies the credentials used to (re)authenticate.
type CredentialSource interface {
	Credentials(ctx context.Context) (scraper.Credentials, error)
}

// StaticCredentials are fixed at startup, usually from config or the
// environment.
type StaticCredentials scraper.Credentials

func (c StaticCredentials) Credentials(context.Context) (scraper.Credentials, error) {
	return scraper.Credentials(c), nil
}

const (
	credentialsLinkKey     = "credentials.link"
	credentialsUsernameKey = "credentials.username"
	credentialsPasswordKey = "credentials.password"
)

// StoredCredentials keeps credentials in the same key-value store as the
// session.
type StoredCredentials struct {
	store kvstore.Store
}

func NewStoredCredentials(store kvstore.Store) StoredCredentials {
	return StoredCredentials{store: store}
}

func (c StoredCredentials) Credentials(ctx context.Context) (scraper.Credentials, error) {
	values, err := c.store.GetMany(ctx, credentialsLinkKey, credentialsUsernameKey, credentialsPasswordKey)
	if err != nil {
		return scraper.Credentials{}, err
	}
	return scraper.Credentials{
		Link:     values[credentialsLinkKey],
		Username: values[credentialsUsernameKey],
		Password: values[credentialsPasswordKey],
	}, nil
}

func (c StoredCredentials) Save(ctx context.Context, creds scraper.Credentials) error {
	return c.store.SetMany(ctx, map[string]string{
		credentialsLinkKey:     creds.Link,
		credentialsUsernameKey: creds.Username,
		credentialsPasswordKey: creds.Password,
	})
}

func (c StoredCredentials) Clear(ctx context.Context) error {
	return c.store.Delete(ctx, credentialsLinkKey, credentialsUsernameKey, credentialsPasswordKey)
}
