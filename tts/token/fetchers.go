package token

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/learntoreadsa/readaloud/tts"
)

// IssuedTokenValidity is how long a key-exchanged token stays valid.
const IssuedTokenValidity = 9 * time.Minute

// CognitiveServicesScope is the Entra ID scope for speech tokens.
const CognitiveServicesScope = "https://cognitiveservices.azure.com/.default"

const maxTokenSize = 16 << 10

// StatusError maps a non-success HTTP status from a token endpoint onto
// the error taxonomy. 503 means the service has no credentials configured.
func StatusError(component string, code int) error {
	if code == http.StatusServiceUnavailable {
		return tts.NewSpeechError(tts.ErrConfigurationMissing, component, "fetch token").WithStatus(code)
	}
	return tts.NewSpeechError(tts.ErrTokenRequestFailed, component, "fetch token").WithStatus(code)
}

// IssueTokenFetcher exchanges a subscription key for a bearer token at the
// regional issueToken endpoint.
type IssueTokenFetcher struct {
	client   *http.Client
	url      func(region string) string
	validity time.Duration
}

// NewIssueTokenFetcher creates a fetcher using client, or
// http.DefaultClient when nil.
func NewIssueTokenFetcher(client *http.Client) *IssueTokenFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &IssueTokenFetcher{client: client, url: IssueTokenURL, validity: IssuedTokenValidity}
}

// WithValidity overrides how long issued tokens are assumed to live.
func (f *IssueTokenFetcher) WithValidity(d time.Duration) *IssueTokenFetcher {
	if d > 0 {
		f.validity = d
	}
	return f
}

// WithURL overrides the endpoint builder.
func (f *IssueTokenFetcher) WithURL(url func(region string) string) *IssueTokenFetcher {
	f.url = url
	return f
}

// IssueTokenURL returns the key exchange endpoint for region.
func IssueTokenURL(region string) string {
	return fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", region)
}

// FetchToken implements Fetcher.
func (f *IssueTokenFetcher) FetchToken(ctx context.Context, creds Credentials, region string) (Issued, error) {
	if creds.SubscriptionKey == "" || region == "" {
		return Issued{}, tts.NewSpeechError(tts.ErrConfigurationMissing, "issuetoken", "fetch token")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url(region), http.NoBody)
	if err != nil {
		return Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "issuetoken", "build request").WithCause(err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", creds.SubscriptionKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "issuetoken", "fetch token").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Issued{}, StatusError("issuetoken", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenSize))
	if err != nil {
		return Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "issuetoken", "read token").WithCause(err)
	}
	value := strings.TrimSpace(string(body))
	if value == "" {
		return Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "issuetoken", "read token").
			WithCause(fmt.Errorf("empty token"))
	}

	return Issued{Token: value, Region: region, Validity: f.validity}, nil
}

// EntraFetcher obtains speech tokens from a Microsoft Entra ID credential
// instead of a subscription key.
type EntraFetcher struct {
	cred       azcore.TokenCredential
	resourceID string
	now        func() time.Time
}

// NewEntraFetcher creates a fetcher using the default Azure credential
// chain (environment, managed identity, Azure CLI).
func NewEntraFetcher(resourceID string) (*EntraFetcher, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return NewEntraFetcherWithCredential(cred, resourceID), nil
}

// NewEntraFetcherWithCredential creates a fetcher from an existing credential.
func NewEntraFetcherWithCredential(cred azcore.TokenCredential, resourceID string) *EntraFetcher {
	return &EntraFetcher{cred: cred, resourceID: resourceID, now: time.Now}
}

// FetchToken implements Fetcher. Subscription credentials are ignored.
func (f *EntraFetcher) FetchToken(ctx context.Context, _ Credentials, region string) (Issued, error) {
	if f.resourceID == "" {
		return Issued{}, tts.NewSpeechError(tts.ErrConfigurationMissing, "entra", "fetch token")
	}

	at, err := f.cred.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{CognitiveServicesScope},
	})
	if err != nil {
		return Issued{}, tts.NewSpeechError(tts.ErrTokenRequestFailed, "entra", "fetch token").WithCause(err)
	}

	return Issued{
		Token:    "aad#" + f.resourceID + "#" + at.Token,
		Region:   region,
		Validity: at.ExpiresOn.Sub(f.now()),
	}, nil
}
