package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const defaultUploadExpiry = 15 * time.Minute

var (
	errNoSigner           = errors.New("storage: a signer is needed")
	errInvalidBucket      = errors.New("storage: bucket name missing")
	errInvalidObject      = errors.New("storage: object name missing")
	errMethodNotAllowed   = errors.New("storage: upload method not allowed")
	errContentTypeMissing = errors.New("storage: content type missing")
	errContentTypeDenied  = errors.New("storage: content type rejected")
	errMD5Invalid         = errors.New("storage: content MD5 is not base64")
)

// Client mints V4 signed upload URLs backed by a Signer. The bucket itself is
// never touched; browsers PUT the bytes straight to Cloud Storage.
type Client struct {
	signer Signer
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption adjusts how the client signs.
type ClientOption func(*Client)

// WithSigningScheme selects a signing scheme other than V4.
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithClock substitutes the time source used for expiry stamps.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient wraps the signer in a signed-URL client.
func NewClient(signer Signer, opts ...ClientOption) (*Client, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{signer: signer, scheme: storage.SigningSchemeV4, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadOptions constrain what the holder of a signed upload URL may send.
// Everything set here is baked into the signature, so a client that lies
// about the content type or exceeds MaxSize gets rejected by the bucket.
type UploadOptions struct {
	Method              string
	ContentType         string
	ContentMD5          string
	AllowedContentTypes []string
	MaxSize             int64
	ExpiresIn           time.Duration
}

// SignedUpload describes a minted upload URL and the headers the caller
// must replay verbatim on the PUT.
type SignedUpload struct {
	URL       string
	Method    string
	ExpiresAt time.Time
	Headers   map[string]string
}

// SignedUploadURL mints a signed URL authorising a direct upload of the
// object into the bucket.
func (c *Client) SignedUploadURL(ctx context.Context, bucket, object string, opts UploadOptions) (SignedUpload, error) {
	if c == nil {
		return SignedUpload{}, errNoSigner
	}
	if ctx == nil {
		return SignedUpload{}, errors.New("storage: context is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedUpload{}, errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return SignedUpload{}, errInvalidObject
	}

	method, err := uploadMethod(opts.Method)
	if err != nil {
		return SignedUpload{}, err
	}

	contentType := strings.TrimSpace(opts.ContentType)
	if contentType == "" {
		return SignedUpload{}, errContentTypeMissing
	}
	if len(opts.AllowedContentTypes) > 0 && !contentTypeAllowed(contentType, opts.AllowedContentTypes) {
		return SignedUpload{}, errContentTypeDenied
	}

	md5 := strings.TrimSpace(opts.ContentMD5)
	if md5 != "" {
		if _, err := base64.StdEncoding.DecodeString(md5); err != nil {
			return SignedUpload{}, errMD5Invalid
		}
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultUploadExpiry
	}
	expiresAt := c.now().Add(expiry)

	headers := map[string]string{"Content-Type": contentType}
	if md5 != "" {
		headers["Content-MD5"] = md5
	}

	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: c.signer.Email(),
		Scheme:         c.scheme,
		Method:         method,
		ContentType:    contentType,
		MD5:            md5,
		Expires:        expiresAt,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}
	if opts.MaxSize > 0 {
		lengthRange := fmt.Sprintf("0,%d", opts.MaxSize)
		urlOpts.Headers = []string{"x-goog-content-length-range:" + lengthRange}
		headers["x-goog-content-length-range"] = lengthRange
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedUpload{}, fmt.Errorf("storage: sign upload url: %w", err)
	}

	return SignedUpload{
		URL:       signedURL,
		Method:    method,
		ExpiresAt: expiresAt,
		Headers:   headers,
	}, nil
}

func uploadMethod(method string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case "":
		return "PUT", nil
	case "PUT", "POST":
		return method, nil
	default:
		return "", errMethodNotAllowed
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	got := strings.ToLower(strings.TrimSpace(contentType))
	for _, pattern := range allowed {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case pattern == "":
		case pattern == "*":
			return true
		case strings.HasSuffix(pattern, "/*"):
			if strings.HasPrefix(got, strings.TrimSuffix(pattern, "*")) {
				return true
			}
		case got == pattern:
			return true
		}
	}
	return false
}
