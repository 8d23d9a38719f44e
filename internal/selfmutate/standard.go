package selfmutate

import "github.com/specialistvlad/cdflow/internal/pipeline"

// Names used by the canonical request-logger delivery topology.
const (
	MutationPipeline    = "PipelineMutation"
	ApplicationPipeline = "RequestLoggerPipeline"
	DefinitionRepo      = "pipeline"
	ApplicationRepo     = "request-logger"
	SelfStack           = "PipelineStack"
	ApplicationStack    = "LambdaDeploymentStack"
	URLExport           = "lambdaUrl"
	ARNExport           = "lambdaARN"
)

func cdkBuild() *pipeline.BuildSpec {
	return &pipeline.BuildSpec{
		Version: "0.2",
		Phases: []pipeline.Phase{
			{Name: "install", Commands: []string{"ls", "bash ./bin/install"}},
			{Name: "build", Commands: []string{"bash ./bin/release"}},
		},
		Artifacts: pipeline.OutputSpec{
			BaseDirectory: "dist",
			Files:         []string{"PipelineStack.template.json", "LambdaStack.template.json"},
		},
	}
}

func lambdaBuild() *pipeline.BuildSpec {
	return &pipeline.BuildSpec{
		Version: "0.2",
		Phases: []pipeline.Phase{
			{Name: "install", Commands: []string{"ls", "ls bin", "bash ./bin/install"}},
			{Name: "build", Commands: []string{"bash ./bin/release"}},
		},
		Artifacts: pipeline.OutputSpec{BaseDirectory: "build", Files: []string{"main"}},
	}
}

func lambdaVerify() *pipeline.BuildSpec {
	return &pipeline.BuildSpec{
		Version: "0.2",
		Phases: []pipeline.Phase{
			{Name: "install", Commands: []string{"bash ./bin/install"}},
			{Name: "build", Commands: []string{"bash ./bin/verify $LAMBDA_URL"}},
		},
	}
}

// Standard returns the split topology that delivers the request-logger
// function: a mutation pipeline redeploying the pipeline stack, and an
// application pipeline deploying the function and verifying its endpoint.
func Standard() Definition {
	definitionRepo := pipeline.Repository{Name: DefinitionRepo, Branch: "main"}
	applicationRepo := pipeline.Repository{Name: ApplicationRepo, Branch: "main"}

	mutation := pipeline.Spec{
		Name:         MutationPipeline,
		Repositories: []pipeline.Repository{definitionRepo},
		Stages: []pipeline.StageSpec{
			{Name: "Source", Actions: []pipeline.ActionSpec{
				{Name: "CodeCommit_CDK", Kind: pipeline.SourceAction, Repository: DefinitionRepo, Outputs: []string{"CdkSource"}},
			}},
			{Name: "Build", Actions: []pipeline.ActionSpec{
				{Name: "PipelineSynth", Kind: pipeline.BuildAction, Inputs: []string{"CdkSource"}, Outputs: []string{"CdkBuildOutput"}, Build: cdkBuild()},
			}},
			{Name: "Deploy", Actions: []pipeline.ActionSpec{
				{Name: "Deploy", Kind: pipeline.DeployAction, Deploy: &pipeline.DeployTarget{
					StackName:    SelfStack,
					Template:     "CdkBuildOutput",
					TemplatePath: "PipelineStack.template.json",
				}},
			}},
		},
	}

	deploy := pipeline.ActionSpec{
		Name: "Lambda_CFN_Deploy", Kind: pipeline.DeployAction,
		Deploy: &pipeline.DeployTarget{
			StackName:    ApplicationStack,
			Template:     "CdkBuildOutput",
			TemplatePath: "LambdaStack.template.json",
		},
	}
	deploy.BindParameter("CodeBucketName", "LambdaBuildOutput", pipeline.FieldBucket)
	deploy.BindParameter("CodeObjectKey", "LambdaBuildOutput", pipeline.FieldKey)

	verify := pipeline.ActionSpec{
		Name: "Lambda_Verify", Kind: pipeline.VerifyAction,
		Inputs: []string{"LambdaSource"}, Build: lambdaVerify(),
	}
	verify.ImportExport("LAMBDA_URL", URLExport)

	application := pipeline.Spec{
		Name:         ApplicationPipeline,
		Repositories: []pipeline.Repository{definitionRepo, applicationRepo},
		Stages: []pipeline.StageSpec{
			{Name: "Source", Actions: []pipeline.ActionSpec{
				{Name: "CodeCommit_Source", Kind: pipeline.SourceAction, Repository: DefinitionRepo, Outputs: []string{"CdkSource"}},
				{Name: "CodeCommit_Lambda", Kind: pipeline.SourceAction, Repository: ApplicationRepo, Outputs: []string{"LambdaSource"}},
			}},
			{Name: "Build", Actions: []pipeline.ActionSpec{
				{Name: "CDK_Build", Kind: pipeline.BuildAction, Inputs: []string{"CdkSource"}, Outputs: []string{"CdkBuildOutput"}, Build: cdkBuild()},
				{Name: "RequestLogger_Build", Kind: pipeline.BuildAction, Inputs: []string{"LambdaSource"}, Outputs: []string{"LambdaBuildOutput"}, Build: lambdaBuild()},
			}},
			{Name: "Deploy", Actions: []pipeline.ActionSpec{deploy}},
			{Name: "Verify", Actions: []pipeline.ActionSpec{verify}},
		},
	}

	return Definition{
		Mutation:  MutationPipeline,
		SelfStack: SelfStack,
		Pipelines: []pipeline.Spec{mutation, application},
	}
}
