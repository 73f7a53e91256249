package decompose

// plannerSystemPrompt frames the single planning call.
const plannerSystemPrompt = `You are a planning agent for a team of short-lived worker agents.
Each worker starts with no memory, receives one sub-task and only the context that sub-task needs, and is discarded when it finishes.
Plan so that every worker has exactly one clear job.`

// planningPrompt is the template for the planning request. Arguments: goal,
// context section, max steps, tool index.
const planningPrompt = `Break this goal into sub-tasks for worker agents.

GOAL:
%s
%s
Return a plan with this structure:
{
  "analysis": "Brief reading of the goal and the approach",
  "subtasks": [
    {
      "id": "short_snake_case_id",
      "agent_type": "code|research|analysis|creative|general",
      "objective": "The single thing this worker must accomplish",
      "context_required": ["Only the facts this worker needs"],
      "expected_output": "What a good result looks like",
      "dependencies": ["ids of sub-tasks that must finish first"],
      "priority": "high|medium|low"
    }
  ],
  "execution_strategy": "parallel|sequential|hybrid",
  "synthesis_approach": "How the results should be combined into one answer"
}

Rules:
- At most %d sub-tasks
- Every dependency must be the id of another sub-task in this plan
- Only add a dependency when a sub-task needs the other's output
- Sub-tasks without dependencies run in parallel under the hybrid strategy
- Use "code" for anything that writes or changes files
- Keep objectives specific; a worker sees nothing but its own sub-task

Workers can use these tools:
%s`
