// Package server is the HTTP surface: the OAuth redirect pair, the connection
// management API, the token endpoint for internal collaborators, and the
// health and metrics endpoints. Tenant identity arrives in the X-Post-Bot-User
// header set by the upstream identity proxy; this service never authenticates
// end users itself.
package server
