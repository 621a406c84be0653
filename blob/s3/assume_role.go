package s3

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// assumeRoleCredentials builds an STS provider for the role configured
// in o. Blob access then runs under the assumed role's policy instead
// of the base credentials, which is how cross-account buckets are
// reached.
func assumeRoleCredentials(cfg aws.Config, o *options) aws.CredentialsProvider {
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), o.roleARN,
		func(aro *stscreds.AssumeRoleOptions) {
			if o.roleSessionName != "" {
				aro.RoleSessionName = o.roleSessionName
			}
			if o.externalID != "" {
				aro.ExternalID = aws.String(o.externalID)
			}
		})
}
