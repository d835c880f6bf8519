// Package services implements the business logic layer between the HTTP
// handlers and the license engine. Services own response shaping, logging
// with trace ids, and error pass-through; licensing rules themselves live in
// the license package.
//
// # Available Services
//
//   - LicenseService: status, activation, transaction gating, trial reset
//   - HealthService: process liveness and license store readiness
//
// Services are interface-driven so handlers can be tested against stubs.
package services
