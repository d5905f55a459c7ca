// Package mocks provides gomock implementations of the vidrelay ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for the
// interfaces in internal/core. To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	exchanger := mocks.NewMockTokenExchanger(ctrl)
//	exchanger.EXPECT().Exchange(gomock.Any(), gomock.Any()).Return("access-token", nil)
package mocks

// Generate mocks for the credential, source and destination ports:
// CredentialStore (RefreshToken, StoreRefreshToken), SessionNegotiator (Negotiate),
// SourceFetcher (Probe, Open), TokenExchanger (Exchange), Uploader (Upload).
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=core_mock.go github.com/target/vidrelay/internal/core CredentialStore,SessionNegotiator,SourceFetcher,TokenExchanger,Uploader
