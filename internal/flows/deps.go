package flows

// Deps groups flow dependency sets. The engine builds this once at Build.
type Deps struct {
	Renew RenewDeps
}
