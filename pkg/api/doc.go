// Package api provides the HTTP API of the feature store.
//
// # Routes
//
// All routes are mounted under APIPrefix (/api/v1).
//
//	POST /api/v1/items                                write one category of features
//	GET  /api/v1/get/item/{entity_value}/{category}   read one category (?entity_type=, default bright_uid)
//	POST /api/v1/get/items                            read several categories with projection
//	GET  /api/v1/health                               store connectivity
//
// Writes must come from meta.source "prediction_service". Batch reads
// always answer 200: categories that are missing or whose lookup failed,
// followed by those that are not readable, are listed in
// unavailable_categories.
//
// # Errors
//
// Every error response has the form
//
//	{"error": {"status_code": 400, "detail": "...", "error_code": "VALIDATION_ERROR", "timestamp": "..."}}
//
// with the status chosen by apperrors.Classify.
//
// # Usage
//
//	server := api.NewServer(api.Options{
//		Service: svc,
//		Store:   backend,
//		Logger:  logger,
//		Metrics: metrics,
//	})
//	http.ListenAndServe(":8080", server)
package api
