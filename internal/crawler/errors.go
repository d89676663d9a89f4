package crawler

import "errors"

var (
	// ErrInvalidSpiderConfig is returned by NewSpider for unusable settings.
	ErrInvalidSpiderConfig = errors.New("invalid spider configuration")

	// ErrSpiderRunning is returned when Start is called on a running spider.
	ErrSpiderRunning = errors.New("spider is already running")

	// ErrChainSealed is returned when a stage is appended to a started chain.
	ErrChainSealed = errors.New("chain is sealed")

	// ErrSpiderInChain is returned when a spider already belongs to a chain.
	ErrSpiderInChain = errors.New("spider already belongs to a chain")

	// ErrChainRunning is returned when Start is called on a running chain.
	ErrChainRunning = errors.New("chain is already running")

	// ErrEmptyChain is returned when a chain without stages is started.
	ErrEmptyChain = errors.New("chain has no stages")
)
