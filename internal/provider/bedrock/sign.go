package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const signingService = "bedrock"

// requestSigner applies SigV4 to outgoing Bedrock requests using whatever
// credentials the SDK chain resolved at startup.
type requestSigner struct {
	credentials aws.CredentialsProvider
	region      string
	signer      *v4.Signer
}

func newRequestSigner(credentials aws.CredentialsProvider, region string) *requestSigner {
	return &requestSigner{
		credentials: credentials,
		region:      region,
		signer:      v4.NewSigner(),
	}
}

func (s *requestSigner) sign(ctx context.Context, req *http.Request, body []byte) error {
	creds, err := s.credentials.Retrieve(ctx)
	if err != nil {
		return err
	}

	sum := sha256.Sum256(body)
	payloadHash := hex.EncodeToString(sum[:])

	return s.signer.SignHTTP(ctx, creds, req, payloadHash, signingService, s.region, time.Now().UTC())
}
