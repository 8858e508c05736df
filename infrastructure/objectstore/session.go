package objectstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"mediadrop/domain/storage"
)

// NewStaticClient builds an S3 client for one key pair without consulting
// the environment or shared config files
func NewStaticClient(cfg Config, keyID, secret string) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(keyID, secret, "")),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// SessionStores returns a factory that opens bucket with the session's
// application key: AccountID is the key ID and AccessToken the secret
func SessionStores(cfg Config, bucket string) func(ctx context.Context, sess storage.Session) (storage.ObjectStore, error) {
	return func(ctx context.Context, sess storage.Session) (storage.ObjectStore, error) {
		cred := sess.Credential
		if cred.AccountID == "" || cred.AccessToken == "" {
			return nil, fmt.Errorf("%w: session for %q has no application key", storage.ErrAuthentication, sess.UserID)
		}
		return NewS3Store(NewStaticClient(cfg, cred.AccountID, cred.AccessToken), bucket), nil
	}
}
