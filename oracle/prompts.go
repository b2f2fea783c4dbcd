package oracle

import (
	"fmt"
	"time"
)

const generatorSystemPrompt = `You are a Python data analysis agent. You write, debug and refine Python code that answers a user request using the variables provided.

Rules:
1. The program's stdout must directly answer the request.
2. Handle empty tables, missing values and unexpected types.
3. Do not access the network. Use only pandas, numpy, matplotlib and seaborn. Files written to the current directory are kept as artifacts.
4. The provided variables already exist as globals. Do not redefine them.

When given a failing stderr, state the error in one sentence, explain the fix, then give the complete corrected program.`

const assessorSystemPrompt = `You are a code assessment agent. You decide whether an executed Python program fulfilled the user's request.

Scrutinize the output for subtle logical errors and for parts of the request it ignores. Use the earlier attempts in this conversation to avoid repeating a failed approach.`

const assessmentSchema = `Answer with a single JSON object and nothing else:
{
  "analysis": string,      // what the output shows and what is wrong, if anything
  "success": boolean,      // true only when the request is fully satisfied
  "should_retry": boolean, // true when another attempt is worthwhile
  "plan": string,          // the plan for the next attempt, empty when done
  "code": string           // the complete program for the next attempt, empty when done
}`

const generationSchema = `Answer with a single JSON object and nothing else:
{
  "explanation": string, // how the program answers the request
  "code": string         // the complete program
}`

const generationTemplate = `User request: "Today is %s. %s"

Available data:
%s

Write the Python program that fulfills the request.

` + generationSchema

const assessmentTemplate = `Assess the execution below against the user request and the earlier attempts.

User request: "Today is %s. %s"

Program:
` + "```python\n%s\n```" + `

stdout:
` + "```\n%s\n```" + `

stderr:
` + "```\n%s\n```" + `

Available data:
%s

` + assessmentSchema

const regenerationTemplate = `Your previous program failed. Find the error and write a corrected version.

User request: "Today is %s. %s"

Previous program:
` + "```python\n%s\n```" + `

stdout:
` + "```\n%s\n```" + `

stderr:
` + "```\n%s\n```" + `

Available data:
%s

` + assessmentSchema

func today(now func() time.Time) string {
	return now().Format(time.DateOnly)
}

func generationPrompt(now func() time.Time, req CodeGenerationRequest) string {
	return fmt.Sprintf(generationTemplate, today(now), req.RequestText, DescribeVariables(req.Variables))
}

func assessmentPrompt(now func() time.Time, req CodeGenerationRequest, stdout, stderr, code string, succeeded bool) string {
	template := assessmentTemplate
	if !succeeded {
		template = regenerationTemplate
	}
	return fmt.Sprintf(template, today(now), req.RequestText, code, stdout, stderr, DescribeVariables(req.Variables))
}
