package workflow

// Builtins returns the stock workflow definitions registered at startup.
func Builtins() []Config {
	return []Config{
		{
			Name:        "Project Management Workflow",
			Description: "Comprehensive project planning and tracking",
			IntentSignature: &IntentSignature{
				PrimaryDomains:    []string{"Project Management"},
				SecondaryContexts: []string{"project", "planning", "software", "business"},
				RequiredCapabilities: []string{
					"Scheduling",
					"Task Management",
					"timeline_planning",
					"milestone_tracking",
				},
				ComplexityLevel: 3,
			},
			TriggerKeywords: []string{
				"project", "timeline", "milestone", "plan", "schedule", "roadmap",
			},
		},
		{
			ID:          "technical_support",
			Name:        "Technical Support Workflow",
			Description: "Troubleshooting and technical problem resolution",
			IntentSignature: &IntentSignature{
				PrimaryDomains:       []string{"support", "troubleshooting"},
				SecondaryContexts:    []string{"technical", "it"},
				RequiredCapabilities: []string{"diagnostic", "solution_finding"},
				ComplexityLevel:      4,
			},
			TriggerKeywords: []string{
				"help", "problem", "issue", "error", "fix", "troubleshoot",
			},
		},
		{
			Name:        "Legacy Code Refactoring Workflow",
			Description: "Comprehensive strategy for modernizing and improving existing codebase",
			IntentSignature: &IntentSignature{
				PrimaryDomains: []string{
					"software_engineering", "code_quality", "modernization",
				},
				SecondaryContexts: []string{
					"legacy_system", "technical_debt", "architecture_improvement",
				},
				RequiredCapabilities: []string{
					"code_analysis",
					"architectural_assessment",
					"incremental_refactoring",
					"dependency_management",
					"regression_testing",
					"performance_optimization",
				},
				ComplexityLevel: 4,
			},
			TriggerKeywords: []string{
				"refactor", "legacy", "modernize", "technical debt", "improve",
				"restructure", "clean code", "architecture", "upgrade",
			},
		},
		{
			Name:        "Feature Development and Integration Workflow",
			Description: "End-to-end process for designing, implementing, and integrating new software features",
			IntentSignature: &IntentSignature{
				PrimaryDomains: []string{
					"product_development", "software_engineering", "innovation",
				},
				SecondaryContexts: []string{
					"feature_design", "user_experience", "system_enhancement",
				},
				RequiredCapabilities: []string{
					"requirements_gathering",
					"user_story_mapping",
					"architectural_design",
					"implementation_planning",
					"prototype_development",
					"integration_testing",
					"user_feedback_incorporation",
				},
				ComplexityLevel: 4,
			},
			TriggerKeywords: []string{
				"new feature", "develop", "implement", "enhance", "add functionality",
				"innovation", "product improvement", "user story", "requirements",
			},
		},
	}
}
