// Package app composes the notification service from its parts.
//
// # Architecture Role
//
// The app package sits above the service and storage layers and wires them
// into a running application. It is NOT a business logic layer. Business
// logic belongs in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── user/           # Users, roles, email preferences
//	│   ├── subscription/   # Subscription types and subscriptions
//	│   └── notification/   # Notifications and delivery events
//	├── storage/            # Storage interfaces and implementations
//	│   ├── memory/         # In-memory implementation for tests and dev
//	│   └── postgres/       # PostgreSQL implementation for production
//	├── services/           # Business logic services
//	│   ├── users/          # Registration, authentication, admin bootstrap
//	│   ├── subscriptions/  # Subscription types, membership, email prefs
//	│   ├── notifications/  # Notification lifecycle and fan-out
//	│   ├── mailer/         # SMTP delivery worker
//	│   └── cleanup/        # Scheduled retention sweeps
//	├── pubsub/             # Event bus (memory and Redis)
//	├── httpapi/            # HTTP handlers, websocket stream, ops listener
//	├── system/             # Service lifecycle manager and system info
//	└── metrics/            # Prometheus metrics
//
// # Responsibilities
//
// The app package is responsible for:
//
//   - Composing services with their stores, bus, and mailer dependencies
//   - Defining storage interfaces that services depend on
//   - Providing domain models shared across services
//   - Exposing the HTTP API and websocket stream
//   - Managing startup and shutdown ordering through the system manager
//
// # Dependency Direction
//
//	cmd/lantern-api/
//	      │
//	      ▼
//	internal/app/runtime/ (configuration, listeners)
//	      │
//	      ▼
//	internal/app/ (composition)
//	      │
//	      ├──► internal/app/services/ (business logic)
//	      │           │
//	      │           └──► internal/app/storage/ (interfaces)
//	      │
//	      └──► internal/app/pubsub/ (event bus)
//
// # Example: Adding a New Domain
//
// When adding a new domain (e.g., "digests"):
//
//  1. Create domain models in internal/app/domain/digest/
//  2. Add a storage interface to internal/app/storage/interfaces.go
//  3. Implement storage in internal/app/storage/postgres/ and memory/
//  4. Create a service in internal/app/services/digests/service.go
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/handler.go
package app
