// Package entities registers the e-commerce entity definitions with the core
// registry. Import it for side effects wherever the registry is consulted.
package entities

// Each file registers its entities from init(); this file is the single
// import point.
