// Package prereq resolves the inputs a provisioning request still needs before
// it can execute.
//
// The Resolver implements engine.PrerequisiteResolver. For a parsed intent it
// runs, in order:
//
//  1. Auto-fill - backend-inferred safe defaults (default network, service
//     roles, a recent machine image) when credentials are present
//  2. Existing-resource selection - which existing resource to act on and
//     what to do with it
//  3. Service alignment - whether the request text matches the intent's
//     resource type
//  4. Operation fields - required fields of the resolved provider operation,
//     plus a short list of per-family questions
//
// The first step that yields questions wins. Questions are typed
// (string, number, boolean, password) and deduplicated by variable.
//
// The resolver also turns failure text into clarification questions
// (QuestionsFromErrors), so a hard failure that names a missing credential,
// region or parameter becomes a needs-input result.
package prereq
