package storage

import (
	"context"
	"io"
	"strings"
)

// Object is a single upload request. Params holds canonical parameter names
// (see CanonicalParam) and always carries the target Bucket.
type Object struct {
	Key           string
	Body          io.ReadSeeker
	ContentLength int64
	Params        map[string]string
}

func (o *Object) Bucket() string {
	return o.Params[ParamBucket]
}

type Uploader interface {
	Name() string
	Type() string
	Put(ctx context.Context, obj *Object) error
}

type Config interface {
	Validate() error
}

const (
	ParamBucket                  = "Bucket"
	ParamACL                     = "ACL"
	ParamContentType             = "ContentType"
	ParamCacheControl            = "CacheControl"
	ParamContentDisposition      = "ContentDisposition"
	ParamContentEncoding         = "ContentEncoding"
	ParamContentLanguage         = "ContentLanguage"
	ParamStorageClass            = "StorageClass"
	ParamServerSideEncryption    = "ServerSideEncryption"
	ParamSSEKMSKeyID             = "SSEKMSKeyId"
	ParamWebsiteRedirectLocation = "WebsiteRedirectLocation"
	ParamExpires                 = "Expires"
	ParamTagging                 = "Tagging"

	// MetadataPrefix marks user metadata parameters, e.g. "Metadata-owner".
	MetadataPrefix = "Metadata-"
)

// DefaultACL is applied unless the upload parameters name another ACL.
const DefaultACL = "public-read"

var validParams = []string{
	ParamBucket, ParamACL, ParamContentType, ParamCacheControl,
	ParamContentDisposition, ParamContentEncoding, ParamContentLanguage,
	ParamStorageClass, ParamServerSideEncryption, ParamSSEKMSKeyID,
	ParamWebsiteRedirectLocation, ParamExpires, ParamTagging,
}

var knownParams = func() map[string]string {
	m := make(map[string]string)
	for _, p := range validParams {
		m[foldParam(p)] = p
	}
	return m
}()

// ValidParams returns the recognized parameter names, excluding metadata.
func ValidParams() []string {
	return append([]string(nil), validParams...)
}

// CanonicalParam maps a parameter name in any case or snake_case form to its
// canonical name. Metadata parameters keep their key after the prefix.
func CanonicalParam(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, prefix := range []string{"metadata-", "metadata.", "x-amz-meta-"} {
		if strings.HasPrefix(lower, prefix) && len(name) > len(prefix) {
			return MetadataPrefix + name[len(prefix):], true
		}
	}
	p, ok := knownParams[foldParam(name)]
	return p, ok
}

func foldParam(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "").Replace(name))
}
