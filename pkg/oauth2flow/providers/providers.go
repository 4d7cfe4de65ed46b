// Package providers contains preset OAuth2 configurations and claim mappings
// for well-known identity providers. Each preset is a thin adapter over
// oauth2flow; no protocol logic lives here.
package providers

import (
	"github.com/authkit/authkit/pkg/identity"
	"github.com/authkit/authkit/pkg/oauth2flow"
)

// Google endpoints.
const (
	GoogleAuthorizationEndpoint = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenEndpoint         = "https://oauth2.googleapis.com/token"
	GoogleUserInfoEndpoint      = "https://openidconnect.googleapis.com/v1/userinfo"
)

// Google creates the Google OAuth2 provider preset.
func Google(clientID, clientSecret string, opts ...oauth2flow.Option) (*oauth2flow.Provider, error) {
	cfg := oauth2flow.Config{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		AuthorizationEndpoint: GoogleAuthorizationEndpoint,
		TokenEndpoint:         GoogleTokenEndpoint,
		UserInfoEndpoint:      GoogleUserInfoEndpoint,
		Scopes:                []string{"openid", "profile", "email"},
		UsePKCE:               true,
	}
	return oauth2flow.New("google", cfg, opts...)
}

// Facebook endpoints.
const (
	FacebookAuthorizationEndpoint = "https://www.facebook.com/v18.0/dialog/oauth"
	FacebookTokenEndpoint         = "https://graph.facebook.com/v18.0/oauth/access_token"
	FacebookUserInfoEndpoint      = "https://graph.facebook.com/v18.0/me?fields=id,name,email,first_name,last_name"
)

// Facebook creates the Facebook OAuth2 provider preset.
func Facebook(clientID, clientSecret string, opts ...oauth2flow.Option) (*oauth2flow.Provider, error) {
	cfg := oauth2flow.Config{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		AuthorizationEndpoint: FacebookAuthorizationEndpoint,
		TokenEndpoint:         FacebookTokenEndpoint,
		UserInfoEndpoint:      FacebookUserInfoEndpoint,
		Scopes:                []string{"email", "public_profile"},
	}
	opts = append([]oauth2flow.Option{oauth2flow.WithClaimMapper(mapFacebookClaims)}, opts...)
	return oauth2flow.New("facebook", cfg, opts...)
}

func mapFacebookClaims(userInfo map[string]interface{}, id *identity.Identity) {
	addClaim(id, identity.ClaimTypeNameIdentifier, stringField(userInfo, "id"))
	addClaim(id, identity.ClaimTypeName, stringField(userInfo, "name"))
	addClaim(id, identity.ClaimTypeEmail, stringField(userInfo, "email"))
	addClaim(id, identity.ClaimTypeGivenName, stringField(userInfo, "first_name"))
	addClaim(id, identity.ClaimTypeSurname, stringField(userInfo, "last_name"))
}

// Microsoft Account endpoints (consumer tenant of the Microsoft identity
// platform, user profile from Microsoft Graph).
const (
	MicrosoftAuthorizationEndpoint = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	MicrosoftTokenEndpoint         = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
	MicrosoftUserInfoEndpoint      = "https://graph.microsoft.com/v1.0/me"
)

// Microsoft creates the Microsoft Account OAuth2 provider preset.
func Microsoft(clientID, clientSecret string, opts ...oauth2flow.Option) (*oauth2flow.Provider, error) {
	cfg := oauth2flow.Config{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		AuthorizationEndpoint: MicrosoftAuthorizationEndpoint,
		TokenEndpoint:         MicrosoftTokenEndpoint,
		UserInfoEndpoint:      MicrosoftUserInfoEndpoint,
		Scopes:                []string{"openid", "profile", "email", "User.Read"},
	}
	opts = append([]oauth2flow.Option{oauth2flow.WithClaimMapper(mapMicrosoftClaims)}, opts...)
	return oauth2flow.New("microsoft", cfg, opts...)
}

func mapMicrosoftClaims(userInfo map[string]interface{}, id *identity.Identity) {
	addClaim(id, identity.ClaimTypeNameIdentifier, stringField(userInfo, "id"))
	addClaim(id, identity.ClaimTypeName, stringField(userInfo, "displayName"))
	email := stringField(userInfo, "mail")
	if email == "" {
		email = stringField(userInfo, "userPrincipalName")
	}
	addClaim(id, identity.ClaimTypeEmail, email)
	addClaim(id, identity.ClaimTypeGivenName, stringField(userInfo, "givenName"))
	addClaim(id, identity.ClaimTypeSurname, stringField(userInfo, "surname"))
}

func addClaim(id *identity.Identity, claimType, value string) {
	if value == "" {
		return
	}
	id.AddClaim(identity.NewClaimWithIssuer(claimType, value, id.AuthenticationType))
}

func stringField(data map[string]interface{}, key string) string {
	if v, ok := data[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
