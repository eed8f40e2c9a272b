package scratch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/s3client"
)

// S3Store keeps the state as a JSON object, so provisioning and the browser
// stage can run on different CI machines.
type S3Store struct {
	client *s3client.Client
	key    string
}

// NewS3Store returns a store for key in the client's bucket.
func NewS3Store(client *s3client.Client, key string) *S3Store {
	return &S3Store{client: client, key: strings.TrimLeft(key, "/")}
}

func (s *S3Store) Location() string {
	return "s3://" + s.client.Bucket() + "/" + s.key
}

// runIDMeta is the object metadata key carrying State.RunID.
const runIDMeta = "run-id"

func (s *S3Store) Save(ctx context.Context, st State) error {
	data, err := Encode(st)
	if err != nil {
		return err
	}
	var meta map[string]string
	if st.RunID != "" {
		meta = map[string]string{runIDMeta: st.RunID}
	}
	return s.client.Put(ctx, s.key, data, meta)
}

func (s *S3Store) Load(ctx context.Context) (State, error) {
	obj, err := s.client.Get(ctx, s.key)
	if err != nil {
		return State{}, err
	}
	st, err := Decode(obj.Body)
	if err != nil {
		return State{}, err
	}
	if st.RunID == "" {
		st.RunID = obj.Metadata[runIDMeta]
	}
	return st, nil
}

func (s *S3Store) Delete(ctx context.Context) error {
	return s.client.Delete(ctx, s.key)
}

// Open picks a store for uri: "s3://bucket/key" uses S3 with s3cfg (whose
// BucketName is overridden by the URI), anything else is a file path.
func Open(ctx context.Context, uri string, s3cfg s3client.Config) (Store, error) {
	if !strings.HasPrefix(uri, "s3://") {
		if strings.TrimSpace(uri) == "" {
			return nil, errs.New(errs.InvalidArgument, "scratch state location is empty")
		}
		return NewFileStore(uri), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, fmt.Sprintf("parse %q", uri), err)
	}
	key := strings.TrimLeft(u.Path, "/")
	if u.Host == "" || key == "" {
		return nil, errs.New(errs.InvalidArgument, fmt.Sprintf("scratch uri %q needs a bucket and a key", uri))
	}
	s3cfg.BucketName = u.Host
	client, err := s3client.New(ctx, s3cfg)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "open s3 scratch store", err)
	}
	return NewS3Store(client, key), nil
}
