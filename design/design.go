package design

import (
	. "goa.design/goa/v3/dsl"
)

// API definition
var _ = API("poolguard", func() {
	Title("Poolguard Pool Safety Monitor")
	Description("Real-time child proximity hazard monitoring for swimming pools")
	Version("1.0")
	Server("poolguard", func() {
		Host("localhost", func() {
			URI("http://localhost:8080")
		})
	})
})

// JWT security scheme
var JWTAuth = JWTSecurity("jwt", func() {
	Description("Bearer token obtained from /auth/login")
})

// Error types
var BadRequestError = Type("BadRequestError", func() {
	Description("Bad request error")
	Field(1, "error", String, "Error message")
	Required("error")
})

var UnauthorizedError = Type("UnauthorizedError", func() {
	Description("Missing or invalid credentials")
	Field(1, "message", String, "Error message")
	Required("message")
})

var NotReadyError = Type("NotReadyError", func() {
	Description("Service is not ready to serve traffic")
	Field(1, "message", String, "Error message")
	Required("message")
})

// Data types
var Child = Type("Child", func() {
	Description("A detected child")
	Field(1, "isInPool", Boolean, "Whether the child is inside the pool area")
	Field(2, "distance", Float64, "Distance to the nearest unaccompanied adult; null when no adult is paired")
	Required("isInPool")
})

var Analysis = Type("Analysis", func() {
	Description("Latest published hazard analysis")
	Field(1, "children", ArrayOf(Child), "Detected children")
	Field(2, "warningLevel", Int, "Warning level: 0 low, 1 medium, 2 high", func() {
		Minimum(0)
		Maximum(2)
	})
	Field(3, "level", String, "Warning level name", func() {
		Enum("low", "medium", "high")
	})
	Field(4, "minDistance", Float64, "Smallest child to adult distance")
	Field(5, "frameSeq", UInt64, "Sequence number of the analysed frame")
	Field(6, "updatedAt", String, "Publication time", func() {
		Format(FormatDateTime)
	})
	Required("children", "warningLevel", "level", "frameSeq", "updatedAt")
})

var Alert = Type("Alert", func() {
	Description("A stored warning level transition")
	Field(1, "id", String, "Event ID", func() {
		Format(FormatUUID)
	})
	Field(2, "previous", String, "Level before the transition", func() {
		Enum("low", "medium", "high")
	})
	Field(3, "current", String, "Level after the transition", func() {
		Enum("low", "medium", "high")
	})
	Field(4, "frame_seq", UInt64, "Frame that caused the transition")
	Field(5, "timestamp", String, "Transition time", func() {
		Format(FormatDateTime)
	})
	Field(6, "notification_sent", Boolean, "Whether a Telegram alert was delivered")
	Required("id", "previous", "current", "timestamp", "notification_sent")
})

var SystemStatus = Type("SystemStatus", func() {
	Description("Pipeline status")
	Field(1, "uptime", String, "Time since start")
	Field(2, "started_at", String, "Start time", func() {
		Format(FormatDateTime)
	})
	Field(3, "capture", MapOf(String, Any), "Frame source counters")
	Field(4, "buffer_length", Int, "Frames waiting in the capture buffer")
	Field(5, "buffer_capacity", Int, "Capture buffer capacity")
	Field(6, "inference", MapOf(String, Any), "Inference loop counters")
	Field(7, "cache", MapOf(String, Any), "Result cache counters")
	Field(8, "evaluator", String, "Evaluator kind")
	Field(9, "evaluator_healthy", Boolean, "Evaluator health")
	Field(10, "stream_clients", Int, "Connected MJPEG clients")
	Field(11, "event_clients", Int, "Connected event channel clients")
	Field(12, "events_dropped", UInt64, "Events skipped for slow event channel clients")
	Required("uptime", "started_at", "evaluator", "evaluator_healthy")
})

// Health service
var _ = Service("health", func() {
	Description("Liveness and readiness probes")

	Method("healthz", func() {
		Description("Liveness probe")
		HTTP(func() {
			GET("/healthz")
			Response(StatusOK)
		})
	})

	Method("readyz", func() {
		Description("Readiness probe: ready once an analysis has been published")
		Error("not_ready", NotReadyError, "No analysis published yet")
		HTTP(func() {
			GET("/readyz")
			Response(StatusOK)
			Response("not_ready", StatusServiceUnavailable)
		})
	})
})

// Analysis service
var _ = Service("analysis", func() {
	Description("Latest hazard analysis and annotated frames")
	Security(JWTAuth)

	Method("latest", func() {
		Description("Latest published analysis, empty object before the first one")
		Payload(func() {
			Token("token", String, "JWT token")
		})
		Result(Analysis)
		HTTP(func() {
			GET("/analysis")
			Response(StatusOK)
		})
	})

	Method("snapshot", func() {
		Description("Latest published frame as JPEG")
		Payload(func() {
			Token("token", String, "JWT token")
		})
		Result(Bytes)
		Error("not_ready", NotReadyError, "No frame published yet")
		HTTP(func() {
			GET("/snapshot")
			Param("token")
			Response(StatusOK, func() {
				ContentType("image/jpeg")
			})
			Response("not_ready", StatusServiceUnavailable)
		})
	})

	Method("video", func() {
		Description("Paced multipart MJPEG stream of published frames")
		Payload(func() {
			Token("token", String, "JWT token")
		})
		HTTP(func() {
			GET("/video")
			Param("token")
			SkipResponseBodyEncodeDecode()
			Response(StatusOK, func() {
				ContentType("multipart/x-mixed-replace; boundary=frame")
			})
		})
	})
})

// Alerts service
var _ = Service("alerts", func() {
	Description("Warning level transition history")
	Security(JWTAuth)

	Method("list", func() {
		Description("List stored transitions, newest first")
		Payload(func() {
			Token("token", String, "JWT token")
			Field(1, "limit", Int, "Maximum number of alerts to return", func() {
				Default(50)
				Minimum(1)
				Maximum(500)
			})
			Field(2, "level", String, "Minimum current level", func() {
				Enum("low", "medium", "high")
			})
			Field(3, "since", String, "Only alerts after this time", func() {
				Format(FormatDateTime)
			})
		})
		Result(ArrayOf(Alert))
		Error("bad_request", BadRequestError, "Invalid query")
		HTTP(func() {
			GET("/alerts")
			Param("limit")
			Param("level")
			Param("since")
			Response(StatusOK)
			Response("bad_request", StatusBadRequest)
		})
	})

	Method("get", func() {
		Description("Get a stored transition by ID")
		Payload(func() {
			Token("token", String, "JWT token")
			Field(1, "id", String, "Event ID")
			Required("id")
		})
		Result(Alert)
		Error("not_found", BadRequestError, "Alert not found")
		HTTP(func() {
			GET("/alerts/{id}")
			Response(StatusOK)
			Response("not_found", StatusNotFound)
		})
	})
})

// Status service
var _ = Service("status", func() {
	Description("Pipeline monitoring")
	Security(JWTAuth)

	Method("get", func() {
		Payload(func() {
			Token("token", String, "JWT token")
		})
		Result(SystemStatus)
		HTTP(func() {
			GET("/status")
			Response(StatusOK)
		})
	})
})

// Auth service
var _ = Service("auth", func() {
	Description("Token based authentication")

	Method("login", func() {
		Description("Exchange credentials for a JWT")
		Payload(func() {
			Field(1, "username", String, "Username")
			Field(2, "password", String, "Password")
			Required("username", "password")
		})
		Result(func() {
			Field(1, "token", String, "JWT token")
			Field(2, "expires_at", Int64, "Expiry as a Unix timestamp")
			Required("token", "expires_at")
		})
		Error("unauthorized", UnauthorizedError, "Invalid credentials")
		HTTP(func() {
			POST("/auth/login")
			Response(StatusOK)
			Response("unauthorized", StatusUnauthorized)
		})
	})

	Method("status", func() {
		Description("Whether authentication is enabled and the caller is authenticated")
		Security(JWTAuth)
		Payload(func() {
			Token("token", String, "JWT token")
		})
		Result(func() {
			Field(1, "enabled", Boolean)
			Field(2, "authenticated", Boolean)
			Field(3, "username", String)
			Required("enabled", "authenticated")
		})
		HTTP(func() {
			GET("/auth/status")
			Response(StatusOK)
		})
	})
})

// Events service
var _ = Service("events", func() {
	Description("Live warning level transitions over WebSocket")
	Security(JWTAuth)

	Method("subscribe", func() {
		Payload(func() {
			Token("token", String, "JWT token")
		})
		StreamingResult(func() {
			Field(1, "type", String, func() {
				Enum("risk_change")
			})
			Field(2, "id", String)
			Field(3, "previous", String)
			Field(4, "current", String)
			Field(5, "frame_seq", UInt64)
			Field(6, "timestamp", String, func() {
				Format(FormatDateTime)
			})
			Required("type", "id", "previous", "current", "timestamp")
		})
		HTTP(func() {
			GET("/ws/events")
			Param("token")
			Response(StatusOK)
		})
	})
})
