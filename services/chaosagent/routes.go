// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chaosagent

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the command endpoints with the router.
//
// Description:
//
//	Registers GET and POST /<module-id>/:command on rg. The group carries
//	the host prefix, e.g. /sandbox/default/module/http, and any middleware.
//
// Inputs:
//
//	rg - Gin router group for the host prefix
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET|POST /<module-id>/create  - Create an experiment
//	GET|POST /<module-id>/destroy - Destroy an experiment by uid
//	GET|POST /<module-id>/status  - Module status
//	GET|POST /<module-id>/list    - List live experiments
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	base := "/" + strings.Trim(handlers.module.ID(), "/")
	agent := rg.Group(base)
	{
		agent.GET("/:command", handlers.HandleCommand)
		agent.POST("/:command", handlers.HandleCommand)
	}
}
