package canarystore

// Applier is implemented by every backend service that can be dispatched to by account.
type Applier interface {
	// AppliesTo reports whether the service serves the account: the account must carry a
	// capability the service supports and be of the concrete type the service expects.
	AppliesTo(account Account) bool
}

// Resolver picks the first registered service that applies to an account.
//
// Services are tried in registration order and the first match wins, so operators
// must avoid granting overlapping capabilities to accounts served by two services
// of the same kind.
type Resolver[S Applier] struct {
	kind     string
	accounts *AccountRegistry
	services []S
}

// NewResolver creates a resolver over services, tried in the given order.
// kind names the service family in resolution errors ("storage", "metrics").
func NewResolver[S Applier](kind string, accounts *AccountRegistry, services ...S) *Resolver[S] {
	return &Resolver[S]{
		kind:     kind,
		accounts: accounts,
		services: services,
	}
}

// StorageServiceRepository resolves object storage services by account.
type StorageServiceRepository = Resolver[StorageService]

// MetricsServiceRepository resolves metrics services by account.
type MetricsServiceRepository = Resolver[MetricsService]

// NewStorageServiceRepository creates the object-store resolver
func NewStorageServiceRepository(accounts *AccountRegistry, services ...StorageService) *StorageServiceRepository {
	return NewResolver("storage", accounts, services...)
}

// NewMetricsServiceRepository creates the metrics-service resolver
func NewMetricsServiceRepository(accounts *AccountRegistry, services ...MetricsService) *MetricsServiceRepository {
	return NewResolver("metrics", accounts, services...)
}

// Find returns the first service whose AppliesTo accepts account.
func (r *Resolver[S]) Find(account Account) (S, bool) {
	var zero S
	if account == nil {
		return zero, false
	}
	for _, service := range r.services {
		if service.AppliesTo(account) {
			return service, true
		}
	}
	return zero, false
}

// Require is Find failing with a *ResolutionError naming the account.
func (r *Resolver[S]) Require(account Account) (S, error) {
	service, ok := r.Find(account)
	if !ok {
		name := "<nil>"
		if account != nil {
			name = account.Name()
		}
		return service, &ResolutionError{Kind: r.kind, Account: name}
	}
	return service, nil
}

// RequireByName looks the account up in the registry, then resolves its service.
func (r *Resolver[S]) RequireByName(name string) (S, error) {
	account, err := r.accounts.RequireByName(name)
	if err != nil {
		var zero S
		return zero, err
	}
	return r.Require(account)
}

// Accounts returns the registry the resolver looks names up in.
func (r *Resolver[S]) Accounts() *AccountRegistry {
	return r.accounts
}

// ResolveOrFirst resolves an optional account name for capability, then its service.
// A blank name picks any account carrying the capability.
func (r *Resolver[S]) ResolveOrFirst(name string, capability Capability) (Account, S, error) {
	var zero S
	account, err := r.accounts.ResolveOrFirstOfCapability(name, capability)
	if err != nil {
		return nil, zero, err
	}
	service, err := r.Require(account)
	if err != nil {
		return nil, zero, err
	}
	return account, service, nil
}
