// Package tenant resolves tenant-qualified gateway hostnames.
//
// Tenants are deployments addressed by a subdomain label, e.g.
// my-tenant.portal.blip.ai. The tenant of a connection is either given
// explicitly or derived from the location the client runs for: when the
// location is not on the canonical domain, its first host label is the
// tenant.
//
// Resolution never fails. Inputs that are not absolute URLs degrade to
// plain string concatenation (tenant present) or the fallback verbatim.
package tenant
